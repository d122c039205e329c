package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hive-corporation/varonis-dsp/internal/core/domain"
)

const defaultSlackAPI = "https://slack.com/api/chat.postMessage"

// maxIncidentBlocks limits how many incidents are listed in one message.
const maxIncidentBlocks = 10

type SlackNotifier struct {
	botToken    string
	channel     string
	mentionTeam string
	apiURL      string
	httpClient  *http.Client
}

func NewSlackNotifier(botToken, channel, mentionTeam string) *SlackNotifier {
	return &SlackNotifier{
		botToken:    botToken,
		channel:     channel,
		mentionTeam: mentionTeam,
		apiURL:      defaultSlackAPI,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithAPIURL points the notifier at another chat.postMessage endpoint.
func (s *SlackNotifier) WithAPIURL(url string) *SlackNotifier {
	s.apiURL = url
	return s
}

// NotifyIncidents posts one message summarizing newly fetched incidents.
func (s *SlackNotifier) NotifyIncidents(incidents []domain.Incident) error {
	if len(incidents) == 0 {
		return nil
	}

	payload := SlackMessage{
		Channel: s.channel,
		Blocks:  s.buildIncidentBlocks(incidents),
		Text:    fmt.Sprintf("🚨 %d new Varonis DSP incident(s)", len(incidents)),
	}

	return s.sendMessage(payload)
}

// Build Slack blocks for a batch of incidents
func (s *SlackNotifier) buildIncidentBlocks(incidents []domain.Incident) []SlackBlock {
	blocks := []SlackBlock{
		{
			Type: "header",
			Text: &SlackText{
				Type: "plain_text",
				Text: fmt.Sprintf("🚨 %d New Varonis DSP Incident(s)", len(incidents)),
			},
		},
		{Type: "divider"},
	}

	for i, inc := range incidents {
		if i >= maxIncidentBlocks {
			blocks = append(blocks, SlackBlock{
				Type: "section",
				Text: &SlackText{
					Type: "mrkdwn",
					Text: fmt.Sprintf("_...and %d more incidents_", len(incidents)-maxIncidentBlocks),
				},
			})
			break
		}

		blocks = append(blocks, SlackBlock{
			Type: "section",
			Fields: []SlackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Incident*\n%s", inc.Name)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Severity*\n%s %s", severityEmoji(inc.Severity), severityLabel(inc.Severity))},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Occurred*\n%s", inc.Occurred.Format(time.RFC3339))},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Alert Seq*\n%d", inc.SeqID)},
			},
		})
	}

	if s.mentionTeam != "" {
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("🔔 %s", s.mentionTeam),
			},
		})
	}

	return blocks
}

func severityEmoji(sev int) string {
	switch sev {
	case 4:
		return "🔴"
	case 3:
		return "🟠"
	case 2:
		return "🟡"
	default:
		return "🟢"
	}
}

func severityLabel(sev int) string {
	switch sev {
	case 4:
		return "Critical"
	case 3:
		return "High"
	case 2:
		return "Medium"
	case 1:
		return "Low"
	default:
		return "Unknown"
	}
}

// Send message to Slack
func (s *SlackNotifier) sendMessage(msg SlackMessage) error {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack message: %w", err)
	}

	req, err := http.NewRequest("POST", s.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.botToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned status %d", resp.StatusCode)
	}

	return nil
}

// Slack API structures

type SlackMessage struct {
	Channel string       `json:"channel"`
	Blocks  []SlackBlock `json:"blocks"`
	Text    string       `json:"text"` // Fallback text
}

type SlackBlock struct {
	Type     string      `json:"type"`
	Text     *SlackText  `json:"text,omitempty"`
	Fields   []SlackText `json:"fields,omitempty"`
	Elements []SlackText `json:"elements,omitempty"`
}

type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
