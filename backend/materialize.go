package backend

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/videoflow/types"
)

// 结果定位符约定：服务商返回内联 base64 时以 b64: 前缀标记，
// 其余情况为可下载的 URL。
const b64LocatorPrefix = "b64:"

// materializeLocator 将定位符落地为 destDir 下的本地文件。
func materializeLocator(ctx context.Context, client *http.Client, provider, locator, destDir, fileName string, headers map[string]string) (string, error) {
	if locator == "" {
		return "", types.NewError(types.ErrInternalError, "empty result locator").WithProvider(provider)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	dest := filepath.Join(destDir, fileName)

	if strings.HasPrefix(locator, b64LocatorPrefix) {
		if err := writeBase64(strings.TrimPrefix(locator, b64LocatorPrefix), dest); err != nil {
			return "", err
		}
	} else if err := downloadFile(ctx, client, provider, locator, dest, headers); err != nil {
		return "", err
	}

	if err := ensureNonEmpty(dest); err != nil {
		return "", err
	}
	return dest, nil
}

func downloadFile(ctx context.Context, client *http.Client, provider, url, dest string, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create download request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ClassifyTransport(provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ClassifyHTTP(provider, resp.StatusCode, body)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		os.Remove(dest)
		return ClassifyTransport(provider, err)
	}
	return nil
}

func writeBase64(data, dest string) error {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("failed to decode video payload: %w", err)
	}
	if err := os.WriteFile(dest, decoded, 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

func ensureNonEmpty(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("output file missing: %w", err)
	}
	if info.Size() == 0 {
		os.Remove(path)
		return types.NewError(types.ErrTransient, "provider returned empty file")
	}
	return nil
}
