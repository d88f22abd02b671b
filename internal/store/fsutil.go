package store

import "os"

// dbFileSize sums the main database file plus its WAL/SHM siblings, which is
// the figure retention's size phase budgets against — WAL pages count
// against the on-disk footprint until a checkpoint folds them back in.
func dbFileSize(dbPath string) (int64, error) {
	var total int64
	for _, suffix := range []string{"", "-wal", "-shm"} {
		info, err := os.Stat(dbPath + suffix)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}
