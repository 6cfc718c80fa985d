// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package download

import (
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// guessFilename derives a display filename for a fetched resource, in order
// of preference: the Content-Disposition header, well-known URL query
// parameters, then the URL path basename. When the response is a PDF and
// the name carries no extension, ".pdf" is appended.
func guessFilename(resp *http.Response, rawURL string) string {
	name := filenameFromDisposition(resp.Header.Get("Content-Disposition"))

	if name == "" {
		name = filenameFromQuery(rawURL)
	}
	if name == "" {
		if u, err := url.Parse(rawURL); err == nil {
			name = path.Base(u.Path)
			if name == "/" || name == "." {
				name = ""
			}
		}
	}
	if name == "" {
		name = "datasheet"
	}

	defaultExt := ""
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(ct, "application/pdf") && !strings.Contains(path.Base(name), ".") {
		defaultExt = ".pdf"
	}
	return sanitizeFilename(name, defaultExt)
}

// filenameFromDisposition parses a Content-Disposition header, honoring the
// RFC 6266 filename* parameter over the plain filename one.
func filenameFromDisposition(cd string) string {
	if cd == "" {
		return ""
	}
	// mime.ParseMediaType handles both filename= and the RFC 5987
	// filename*= form, preferring the extended one.
	_, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return ""
	}
	return params["filename"]
}

// filenameFromQuery checks query parameters some mirrors use to carry the
// real filename (?filename=x.pdf and friends).
func filenameFromQuery(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	for _, key := range []string{"filename", "file", "name", "download"} {
		if v := q.Get(key); v != "" {
			return v
		}
	}
	return ""
}

// sanitizeFilename strips path separators and leading/trailing dots to keep
// attacker-supplied names from traversing directories, bounds the length,
// and appends defaultExt when the name has no extension.
func sanitizeFilename(name, defaultExt string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = strings.Trim(strings.TrimSpace(name), ".")
	if name == "" {
		name = "file"
	}

	if len(name) > 180 {
		if dot := strings.LastIndex(name, "."); dot > 0 {
			base, ext := name[:dot], name[dot:]
			if len(base) > 160 {
				base = base[:160]
			}
			name = base + ext
		} else {
			name = name[:180]
		}
	}

	if defaultExt != "" && !strings.Contains(name, ".") {
		name += defaultExt
	}
	return name
}
