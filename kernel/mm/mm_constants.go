package mm

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes. All paging modes
	// supported by this package use 4K pages and 4K page tables.
	PageSize = uintptr(1 << PageShift)
)
