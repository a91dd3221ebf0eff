package storage

import (
	"sync"
	"time"

	"github.com/beevik/ntp"

	"shader-cam/pkg/utils"
)

// Clock names snapshots and recordings.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// NTPClock is the system clock corrected by the offset measured against an
// NTP server. Boards without an RTC boot with a wrong time.
type NTPClock struct {
	server string
	query  func(host string) (time.Duration, error)

	lock   sync.RWMutex
	offset time.Duration
}

func NewNTPClock(server string) *NTPClock {
	return &NTPClock{server: server, query: queryOffset}
}

func queryOffset(host string) (time.Duration, error) {
	resp, err := ntp.QueryWithOptions(host, ntp.QueryOptions{Timeout: 5 * time.Second})
	if err != nil {
		return 0, err
	}
	if err = resp.Validate(); err != nil {
		return 0, err
	}

	return resp.ClockOffset, nil
}

// Sync measures the clock offset once. On failure the previous offset is
// kept.
func (c *NTPClock) Sync() error {
	offset, err := c.query(c.server)
	if err != nil {
		return err
	}
	c.lock.Lock()
	c.offset = offset
	c.lock.Unlock()
	utils.GetLogger().Infof("ntp %s: clock offset %s", c.server, offset)

	return nil
}

func (c *NTPClock) Offset() time.Duration {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.offset
}

func (c *NTPClock) Now() time.Time {
	return time.Now().Add(c.Offset())
}
