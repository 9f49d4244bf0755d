package ensemble

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
)

// maxImageBytes caps screenshot downloads; optimized renditions are well
// under this.
const maxImageBytes = 8 << 20

// fetchImageBase64 downloads a screenshot and returns its base64 payload
// plus media type, for providers that do not accept image URLs directly.
func fetchImageBase64(ctx context.Context, client *http.Client, imageURL string) (data, mediaType string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("build image request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("fetch image: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return "", "", fmt.Errorf("read image body: %w", err)
	}
	if len(body) > maxImageBytes {
		return "", "", fmt.Errorf("fetch image: response exceeds %d bytes", maxImageBytes)
	}

	mediaType = resp.Header.Get("Content-Type")
	if mediaType == "" {
		mediaType = "image/jpeg"
	}
	return base64.StdEncoding.EncodeToString(body), mediaType, nil
}
