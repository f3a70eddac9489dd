package preview

import (
	"encoding/json"
	"fmt"
	"strings"
)

// html2canvasSrc is loaded inside the frame to rasterize its own body.
const html2canvasSrc = "https://unpkg.com/html2canvas"

// gestureGuard stops the frame from consuming ctrl+wheel (trackpad pinch)
// and multi-touch pinch, which belong to the outer canvas zoom.
const gestureGuard = `document.body.addEventListener('wheel', function (e) { if (!e.ctrlKey) return; e.preventDefault(); }, { passive: false });
document.addEventListener('gesturestart', function (e) { e.preventDefault(); }, { passive: false });
document.addEventListener('touchmove', function (e) { if (e.touches && e.touches.length > 1) e.preventDefault(); }, { passive: false });`

const snapshotListener = `window.addEventListener('message', function (event) {
  var data = event.data || {};
  if (data.action !== 'take-screenshot' || data.shapeId !== %[1]s) return;
  html2canvas(document.body, { useCORS: true }).then(function (canvas) {
    window.parent.postMessage({ screenshot: canvas.toDataURL('image/png'), shapeId: %[1]s }, '*');
  });
}, false);`

// PreparePayload injects the gesture guard and the snapshot listener right
// before </body>. Without </body> they go before </html>, and without either
// they are appended to the end.
func PreparePayload(shapeID, payload string) string {
	idx := lastIndexFold(payload, "</body>")
	if idx < 0 {
		idx = lastIndexFold(payload, "</html>")
	}
	if idx < 0 {
		idx = len(payload)
	}
	var sb strings.Builder
	sb.WriteString(payload[:idx])
	sb.WriteString(`<script src="` + html2canvasSrc + `"></script><script>`)
	// json 编码同时转义 < > &，可安全嵌入 <script>
	quoted, _ := json.Marshal(shapeID)
	sb.WriteString(fmt.Sprintf(snapshotListener, quoted))
	sb.WriteString("\n")
	sb.WriteString(gestureGuard)
	sb.WriteString("</script>\n")
	sb.WriteString(payload[idx:])
	return sb.String()
}

// lastIndexFold is strings.LastIndex with ASCII case folding. It works on the
// original bytes; strings.ToLower can change the length of non-ASCII runes.
func lastIndexFold(s, marker string) int {
	for i := len(s) - len(marker); i >= 0; i-- {
		if strings.EqualFold(s[i:i+len(marker)], marker) {
			return i
		}
	}
	return -1
}
