// Package playlist rewrites HLS manifests so every chunk reference carries an access token.
package playlist

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
)

// ChunkExtension is the file extension of MPEG-TS chunks referenced by a manifest.
const ChunkExtension = ".ts"

// Rewrite replaces every chunk reference in the manifest read from r with an authorized fetch path:
//
//	/stream/{mediaID}/{chunk}?token={token}
//
// All other lines are passed through. Lines are trimmed and terminated by a single newline.
func Rewrite(r io.Reader, mediaID string, token string) (string, error) {
	var b strings.Builder

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if strings.HasSuffix(line, ChunkExtension) {
			line = ChunkURL(mediaID, line, token)
		}

		b.WriteString(line)
		b.WriteByte('\n')
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read playlist: %w", err)
	}

	return b.String(), nil
}

// ChunkURL returns the authorized fetch path of a chunk. Only the base name of ref is kept.
func ChunkURL(mediaID string, ref string, token string) string {
	return fmt.Sprintf("/stream/%s/%s?token=%s", mediaID, path.Base(ref), url.QueryEscape(token))
}
