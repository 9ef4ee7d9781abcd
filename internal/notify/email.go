package notify

import (
	"fmt"

	"github.com/rxtools/scanrec/internal/config"
	"github.com/rxtools/scanrec/internal/types"
	"github.com/rxtools/scanrec/internal/util"
)

// GraphConfig is the configuration for email notifications.
type GraphConfig = config.GraphConfig

// captureEmail builds the subject and body for a saved-capture email.
func captureEmail(frequencyHz uint64, filename string, durationSecs float64, sizeBytes int64) (subject, body string) {
	subject = fmt.Sprintf("[%s] Capture saved at %.3f MHz", AppName, float64(frequencyHz)/1e6)
	body = fmt.Sprintf(
		"A signal capture was saved.\n\n"+
			"Frequency: %.3f MHz\n"+
			"File:      %s\n"+
			"Duration:  %s\n"+
			"Size:      %d bytes\n"+
			"Time:      %s",
		float64(frequencyHz)/1e6, filename, util.FormatDuration(int64(durationSecs*1000)), sizeBytes, util.HumanTime(),
	)
	return subject, body
}

// modeEmail builds the subject and body for a mode-transition email.
func modeEmail(state types.AutoModeState) (subject, body string) {
	subject = fmt.Sprintf("[%s] Receiver now in %s mode", AppName, state)
	body = fmt.Sprintf(
		"The receiver changed operating mode.\n\n"+
			"Mode: %s\n"+
			"Time: %s",
		state, util.HumanTime(),
	)
	return subject, body
}

// SendTestEmail sends a test email to verify email configuration.
func SendTestEmail(cfg *GraphConfig) error {
	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return fmt.Errorf("create Graph client: %w", err)
	}

	if err := client.ValidateAuth(); err != nil {
		return err
	}

	recipients := ParseRecipients(cfg.Recipients)
	subject := "[" + AppName + "] Test notification"
	body := fmt.Sprintf(
		"This is a test notification.\n\nTime: %s\n\n"+
			"If you received this, email notifications are working.",
		util.HumanTime(),
	)

	if err := client.SendMail(recipients, subject, body); err != nil {
		return util.WrapError("send email via Graph", err)
	}

	return nil
}
