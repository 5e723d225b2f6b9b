// Package crypto provides page encryption for obastore database files.
//
// Pages are encrypted with AES-256 in XTS mode, the disk-sector mode of
// golang.org/x/crypto/xts. XTS is length preserving, so an encrypted page
// occupies exactly the same bytes as its plaintext and page offsets inside
// the file do not change. The page number is used as the XTS sector number.
//
// Usage:
//
//	key, err := crypto.GenerateKey()
//
//	pc, err := crypto.NewPageCipher(key)
//
//	pc.EncryptPage(dst, src, pageNo)
//	pc.DecryptPage(dst, src, pageNo)
//
// Keys are 64 bytes (two AES-256 keys). Key files contain either the raw
// 64 bytes or 128 hex characters.
package crypto
