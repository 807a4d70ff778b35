package attestation

import (
	"fmt"

	"github.com/Mindburn-Labs/verichat/pkg/crypto"
)

// ComposeHashEvent names the event log entry carrying the compose digest.
const ComposeHashEvent = "compose-hash"

// VerifyCompose checks that the report's app compose manifest matches the
// digest measured into the event log.
func VerifyCompose(report *Report) error {
	if report.AppCompose == "" {
		return fmt.Errorf("%w: report has no app compose", ErrAttestationInvalid)
	}
	want := crypto.HashHex([]byte(report.AppCompose))
	for _, ev := range report.EventLog {
		if ev.Event != ComposeHashEvent {
			continue
		}
		if normalizeHex(ev.EventPayload) == want {
			return nil
		}
		return fmt.Errorf("%w: compose hash mismatch", ErrAttestationInvalid)
	}
	return fmt.Errorf("%w: event log has no %s entry", ErrAttestationInvalid, ComposeHashEvent)
}
