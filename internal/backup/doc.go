// Package backup provides backup and restore of obastore database files.
//
// # Overview
//
// A native backup is a byte-exact copy of the backing store: the header
// pages, the segments and any encrypted pages as stored. Restoring one
// yields a file that opens as the database did when the backup was taken,
// including its last committed generation. Backups of encrypted databases
// need the same key to open.
//
// # Backup Format
//
// A 64-byte BackupHeader is followed by the store contents, optionally
// gzip compressed:
//
//	header := backup.NewBackupHeader()
//	header.PageSize = 4096
//	header.StoreLength = 1 << 20
//	header.TotalPages = 256
//	header.SetCompressed(true)
//
// The header carries a CRC32 of the uncompressed page data.
//
// # Creating Backups
//
// The store is read through a page stream and must not change while the
// backup runs. engine.DB.Backup holds the database lock for this:
//
//	out, _ := os.Create("/backup/data-20260218.obsb")
//	stats, err := db.Backup(out, backup.Options{Compress: true})
//
// For a closed database file, BackupToFile works on the store directly.
//
// # Restoring Backups
//
//	stats, err := backup.RestoreToFile("/backup/data-20260218.obsb",
//	    "/var/lib/obastore/data.obs", backup.RestoreOptions{Verify: true})
//
// With Verify the checksum is checked before the target is written.
//
// # Error Handling
//
// Common backup errors:
//
//   - ErrInvalidBackup: Backup file is malformed or truncated
//   - ErrInvalidMagic: Not an obastore backup
//   - ErrChecksumMismatch: Data corruption detected
//   - ErrUnsupportedFormat: Unknown backup version
//   - ErrTargetExists: Restore would replace an existing file
package backup
