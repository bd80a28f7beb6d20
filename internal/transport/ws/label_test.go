package ws

import (
	"testing"

	"msghub/internal/dto"
)

func TestMetricEventTypeBoundsLabels(t *testing.T) {
	known := []string{
		dto.EventAuthenticate, dto.EventSendMessage, dto.EventMarkRead,
		dto.EventCallInitiate, dto.EventCallRespond, dto.EventCallEnd, dto.EventCallSignal,
		dto.EventFileProposal, dto.EventFileSignal, dto.EventFileReport, dto.EventFileCancel,
		dto.EventOnlineSnapshot,
	}
	for _, typ := range known {
		if got := metricEventType(typ); got != typ {
			t.Fatalf("metricEventType(%q) = %q, want the type itself", typ, got)
		}
	}

	for _, typ := range []string{"teleport", "", "sendMessage2", "DROP TABLE"} {
		if got := metricEventType(typ); got != "unknown" {
			t.Fatalf("metricEventType(%q) = %q, want unknown", typ, got)
		}
	}
}
