package history

import "github.com/npezzotti/go-estate-chat/internal/types"

// ScrollMetrics is the scroll state of a view: total content height and the
// offset of the viewport from the top, in the view's own units.
type ScrollMetrics struct {
	ContentHeight int
	Offset        int
}

// Viewport is the scrollable surface the paginator keeps anchored.
type Viewport interface {
	Metrics() ScrollMetrics
	// Commit renders msgs and returns the resulting content height.
	Commit(msgs []types.Message) int
	SetOffset(offset int)
	ScrollToBottom()
}

// AnchoredOffset returns the offset that keeps the content under the
// viewport in place after content of newHeight-before.ContentHeight was
// added above it.
func AnchoredOffset(before ScrollMetrics, newHeight int) int {
	offset := before.Offset + (newHeight - before.ContentHeight)
	if offset < 0 {
		return 0
	}
	return offset
}
