package httpclient

import (
	"io"

	stagehanderrors "stagehand/internal/errors"
)

// ReadAllWithLimit reads r fully, failing with a ResponseTooLargeError once
// the body grows past limit bytes. A limit <= 0 disables the cap.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, &stagehanderrors.ResponseTooLargeError{Limit: limit}
	}
	return data, nil
}
