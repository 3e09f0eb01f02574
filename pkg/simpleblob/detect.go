package simpleblob

import (
	"bytes"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// contentTypesByExtension maps file extensions to MIME types. Extension wins
// over content sniffing because callers usually know what they uploaded.
var contentTypesByExtension = map[string]string{
	".md":   "text/markdown",
	".json": "application/json",
	".html": "text/html",
	".htm":  "text/html",
	".js":   "application/javascript",
	".py":   "text/x-python",
	".txt":  "text/plain",
	".css":  "text/css",
	".csv":  "text/csv",
	".xml":  "application/xml",
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
}

// DetectContentType returns the MIME type for data, preferring the filename
// extension, then content sniffing, then "application/octet-stream".
func DetectContentType(data []byte, filename string) string {
	if filename != "" {
		ext := strings.ToLower(filepath.Ext(filename))
		if ct, ok := contentTypesByExtension[ext]; ok {
			return ct
		}
	}
	if len(data) > 0 {
		sniff := data
		if len(sniff) > 512 {
			sniff = sniff[:512]
		}
		if ct := http.DetectContentType(sniff); ct != "" {
			// DetectContentType appends a charset parameter for text types;
			// the stored content type stays bare.
			if i := strings.Index(ct, ";"); i >= 0 {
				ct = strings.TrimSpace(ct[:i])
			}
			return ct
		}
	}
	return "application/octet-stream"
}

// IsTextContent reports whether data is usable as text: valid UTF-8 with no
// NUL bytes. JSON payloads count as text even though they are also
// structured data.
func IsTextContent(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return false
	}
	return utf8.Valid(data)
}

// EncodingFor classifies data for the Blob.Encoding field.
func EncodingFor(data []byte) string {
	if IsTextContent(data) {
		return EncodingUTF8
	}
	return EncodingBinary
}
