package a

import "rvmm/kernel/mm/vmm"

func flushed(t *vmm.Table) error {
	flush, err := t.MapTo(1, 2)
	if err != nil {
		return err
	}
	flush.Flush()

	_, unmapFlush, err := t.Unmap(1)
	if err != nil {
		return err
	}
	unmapFlush.Ignore()

	vmm.MapRegion(t, 1, 2).Flush()

	_, _ = t.TranslatePage(1)
	return nil
}

func discarded(t *vmm.Table) {
	t.MapTo(1, 2) // want `MapperFlush result of t.MapTo discarded`

	_, _ = t.MapTo(1, 2) // want `MapperFlush result of t.MapTo\(1, 2\) assigned to blank identifier`

	_, _, _ = t.Unmap(1) // want `MapperFlush result of t.Unmap\(1\) assigned to blank identifier`

	vmm.MapRegion(t, 1, 2) // want `MapperFlushAll result of vmm.MapRegion discarded`

	defer vmm.MapRegion(t, 1, 2) // want `MapperFlushAll result of vmm.MapRegion discarded by defer statement`

	flush, _ := t.MapTo(3, 4)
	_ = flush // want `MapperFlush value flush assigned to blank identifier`

	var _ = vmm.MapRegion(t, 3, 4) // want `MapperFlushAll value vmm.MapRegion\(t, 3, 4\) assigned to blank identifier`
}
