package vmm

type MapperFlush struct{ page uintptr }

func (f MapperFlush) Flush()  {}
func (f MapperFlush) Ignore() {}

type MapperFlushAll struct{ count int }

func (f MapperFlushAll) Flush()  {}
func (f MapperFlushAll) Ignore() {}

type Table struct{}

func (t *Table) MapTo(page, frame uintptr) (MapperFlush, error)     { return MapperFlush{page}, nil }
func (t *Table) Unmap(page uintptr) (uintptr, MapperFlush, error)   { return 0, MapperFlush{page}, nil }
func (t *Table) TranslatePage(page uintptr) (uintptr, bool)         { return page, true }
func MapRegion(t *Table, page uintptr, size uintptr) MapperFlushAll { return MapperFlushAll{} }
