package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hive-corporation/varonis-dsp/internal/core/domain"
	"github.com/hive-corporation/varonis-dsp/internal/core/ports"
)

// exportLimit caps a single export.
const exportLimit = 10000

// CEFExporter exports stored incidents in Common Event Format for SIEM ingestion
type CEFExporter struct {
	repo ports.IncidentRepository
}

func NewCEFExporter(repo ports.IncidentRepository) *CEFExporter {
	return &CEFExporter{repo: repo}
}

// Export generates CEF lines for incidents that occurred since the given time
// Format: CEF:Version|Device Vendor|Device Product|Device Version|Signature ID|Name|Severity|Extension
func (e *CEFExporter) Export(ctx context.Context, since time.Time) (string, error) {
	// Default to last 24 hours if no time specified
	if since.IsZero() {
		since = time.Now().Add(-24 * time.Hour)
	}

	incidents, err := e.repo.FindSince(ctx, since, exportLimit)
	if err != nil {
		return "", fmt.Errorf("failed to fetch incidents: %w", err)
	}

	var output strings.Builder
	for _, inc := range incidents {
		output.WriteString(FormatCEF(inc))
		output.WriteString("\n")
	}

	return output.String(), nil
}

// FormatCEF renders one incident. Alert details come from the stored raw
// record; a record that cannot be decoded still yields a header line.
func FormatCEF(inc domain.Incident) string {
	var alert domain.Alert
	_ = json.Unmarshal([]byte(inc.RawJSON), &alert)

	vendor := "Varonis"
	product := "DSP"
	version := "1.0"
	signatureID := alert.Name
	if signatureID == "" {
		signatureID = inc.Type
	}

	// CEF Extensions (key=value pairs)
	extensions := []string{
		fmt.Sprintf("externalId=%s", escapeExtension(inc.AlertID)),
		fmt.Sprintf("rt=%d", inc.Occurred.UnixMilli()),
		"cn1Label=AlertSeqId",
		fmt.Sprintf("cn1=%d", inc.SeqID),
	}
	optional := []struct{ key, label, value string }{
		{"suser", "", alert.UserName},
		{"dhost", "", alert.Device.Name},
		{"cs1", "Category", alert.Category},
		{"cs2", "Status", alert.Status},
		{"cs3", "Asset", alert.On.Asset},
		{"cs4", "Country", alert.Country},
	}
	for _, o := range optional {
		if o.value == "" {
			continue
		}
		if o.label != "" {
			extensions = append(extensions, fmt.Sprintf("%sLabel=%s", o.key, o.label))
		}
		extensions = append(extensions, fmt.Sprintf("%s=%s", o.key, escapeExtension(o.value)))
	}

	return fmt.Sprintf("CEF:0|%s|%s|%s|%s|%s|%d|%s",
		vendor, product, version, escapeHeader(signatureID), escapeHeader(inc.Name),
		cefSeverity(inc.Severity), strings.Join(extensions, " "))
}

// cefSeverity maps the incident scale (1-4) onto CEF's 0-10.
func cefSeverity(sev int) int {
	switch {
	case sev >= 4:
		return 10
	case sev == 3:
		return 8
	case sev == 2:
		return 5
	case sev == 1:
		return 3
	}
	return 0
}

func escapeHeader(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

func escapeExtension(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "=", "\\=")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	return s
}
