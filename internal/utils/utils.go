package utils

import (
	"fmt"
	"log"
	"strings"
	"syscall"
	"time"

	"github.com/beevik/ntp"
)

// maxClockDrift is the NTP offset beyond which the system clock gets
// stepped. Smaller offsets are only logged.
const maxClockDrift = 500 * time.Millisecond

// IsTLSURL checks if a broker URL uses TLS
func IsTLSURL(url string) bool {
	return strings.HasPrefix(url, "ssl://") ||
		strings.HasPrefix(url, "tls://") ||
		strings.HasPrefix(url, "mqtts://")
}

// SyncClock queries the NTP server once and steps the system clock when
// the measured offset exceeds maxClockDrift. Setting the clock requires
// privileges; a permission failure is logged rather than returned since
// the query itself succeeded.
func SyncClock(server string) error {
	resp, err := ntp.Query(server)
	if err != nil {
		return fmt.Errorf("NTP query to %s failed: %v", server, err)
	}
	if err := resp.Validate(); err != nil {
		return fmt.Errorf("invalid NTP response from %s: %v", server, err)
	}

	log.Printf("[Clock] Offset to %s: %v", server, resp.ClockOffset)

	drift := resp.ClockOffset
	if drift < 0 {
		drift = -drift
	}
	if drift <= maxClockDrift {
		return nil
	}

	corrected := time.Now().Add(resp.ClockOffset)
	tv := syscall.NsecToTimeval(corrected.UnixNano())
	if err := syscall.Settimeofday(&tv); err != nil {
		log.Printf("[Clock] Warning: failed to step system clock: %v", err)
		return nil
	}

	log.Printf("[Clock] System clock stepped by %v", resp.ClockOffset)
	return nil
}
