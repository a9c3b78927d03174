package connection

import (
	"time"

	"go.uber.org/zap"

	"github.com/VolantMQ/vlbolt/metrics"
)

func (r *reader) setOptions(opts ...readerOption) error {
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return err
		}
	}

	return nil
}

func rdSource(val source) readerOption {
	return func(t *reader) error {
		t.src = val
		return nil
	}
}

func rdState(val *shared) readerOption {
	return func(t *reader) error {
		t.state = val
		return nil
	}
}

func rdOnPacket(val signalPacket) readerOption {
	return func(t *reader) error {
		t.onPacket = val
		return nil
	}
}

func rdOnError(val signalError) readerOption {
	return func(t *reader) error {
		t.onError = val
		return nil
	}
}

func rdMetric(val metrics.Packets) readerOption {
	return func(t *reader) error {
		t.metric = val
		return nil
	}
}

func rdMaxPacketSize(val int32) readerOption {
	return func(t *reader) error {
		t.maxPacketSize = val
		return nil
	}
}

func rdReadTimeout(val time.Duration) readerOption {
	return func(t *reader) error {
		if val > 0 {
			t.readTimeout = val
		}
		return nil
	}
}

func rdInactivity(val time.Duration) readerOption {
	return func(t *reader) error {
		t.inactivity = val
		return nil
	}
}

func rdLog(val *zap.SugaredLogger) readerOption {
	return func(t *reader) error {
		t.log = val
		return nil
	}
}
