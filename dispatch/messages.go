package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/L1ghtError/LimbWorker/errors"
)

// Response statuses on the ProcessImage channel.
const (
	StatusProgress = "Progress"
	StatusDone     = "Done"
	StatusFail     = "Fail"
)

// Serializer turns payloads into typed requests and responses into payloads.
type Serializer interface {
	Unmarshal(data []byte, v any) error
	Marshal(v any) ([]byte, error)
}

// JSONSerializer is the default Serializer.
type JSONSerializer struct{}

// Unmarshal implements Serializer. Decode failures carry errors.ErrInvalidInput.
func (JSONSerializer) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return errors.Newf(errors.KindInvalidInput, "empty payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %v: %w", v, err, errors.ErrInvalidInput)
	}
	return nil
}

// Marshal implements Serializer.
func (JSONSerializer) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// PingRequest is the Ping channel payload.
type PingRequest struct {
	Message string `json:"message"`
}

// PingResponse answers a PingRequest.
type PingResponse struct {
	Message string `json:"message"`
}

// ProcessImageRequest asks model ModelID to transform the stored image ImageID
// in place.
type ProcessImageRequest struct {
	ModelID *uint32 `json:"modelId"`
	ImageID string  `json:"imageId"`
}

func (r ProcessImageRequest) validate() error {
	switch {
	case r.ModelID == nil:
		return errors.Newf(errors.KindInvalidInput, "modelId is required")
	case r.ImageID == "":
		return errors.Newf(errors.KindInvalidInput, "imageId is required")
	}
	return nil
}

// StatusResponse is a progress or terminal frame.
type StatusResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Estimate returns the time left for a task that reached progress (0..1]
// after elapsed, assuming a constant rate. It is zero when progress is unknown.
func Estimate(elapsed time.Duration, progress float32) time.Duration {
	if progress <= 0 || elapsed <= 0 {
		return 0
	}
	if progress >= 1 {
		return 0
	}
	return time.Duration(float64(elapsed)/float64(progress)) - elapsed
}

// FormatProgress renders a progress frame message such as "42.00%:1830.50ms".
func FormatProgress(progress float32, remaining time.Duration) string {
	ms := float64(remaining) / float64(time.Millisecond)
	return fmt.Sprintf("%.2f%%:%.2fms", progress*100, ms)
}
