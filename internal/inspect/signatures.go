package inspect

import "bytes"

// signaturePrefixSize is how much of the file head the signature check reads.
const signaturePrefixSize = 512

type signature struct {
	magic []byte
	name  string
}

// dangerousSignatures are magic bytes of executable and archive formats that
// must never be accepted regardless of the declared content type.
var dangerousSignatures = []signature{
	{magic: []byte{0x4d, 0x5a}, name: "Windows executable (MZ)"},
	{magic: []byte{0x7f, 0x45, 0x4c, 0x46}, name: "ELF executable"},
	{magic: []byte{0x50, 0x4b, 0x03, 0x04}, name: "ZIP archive"},
	{magic: []byte{0x52, 0x61, 0x72}, name: "RAR archive"},
	{magic: []byte{0x23, 0x21, 0x2f}, name: "shebang script"},
}

// scriptMarkers are plain-text fragments that indicate embedded script
// content rather than media data.
var scriptMarkers = []string{
	"<?php",
	"<%",
	"<script",
	"bash",
	"python",
	"import os",
}

// matchSignature reports the name of the first dangerous signature or script
// marker found in the file prefix, or "" when the prefix looks clean.
func matchSignature(prefix []byte) string {
	for _, sig := range dangerousSignatures {
		if bytes.HasPrefix(prefix, sig.magic) {
			return sig.name
		}
	}
	lowered := bytes.ToLower(prefix)
	for _, marker := range scriptMarkers {
		if bytes.Contains(lowered, []byte(marker)) {
			return "script content (" + marker + ")"
		}
	}
	return ""
}
