package polling

import (
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestBackoffTimerDoublesWithoutJitter(t *testing.T) {
	is := is.New(t)

	bt := newBackoffTimer(5*time.Second, 600*time.Second)

	is.Equal(bt.NextBackOff(), 5*time.Second)
	is.Equal(bt.NextBackOff(), 10*time.Second)
	is.Equal(bt.NextBackOff(), 20*time.Second)
}

func TestBackoffTimerCapsAtMax(t *testing.T) {
	is := is.New(t)

	bt := newBackoffTimer(100*time.Second, 150*time.Second)

	is.Equal(bt.NextBackOff(), 100*time.Second)
	is.Equal(bt.NextBackOff(), 150*time.Second)
	is.Equal(bt.NextBackOff(), 150*time.Second)
}

func TestBackoffTimerResetsToBase(t *testing.T) {
	is := is.New(t)

	bt := newBackoffTimer(5*time.Second, 600*time.Second)
	bt.NextBackOff()
	bt.NextBackOff()
	bt.Reset()

	is.Equal(bt.NextBackOff(), 5*time.Second)
}
