//go:build unix

package transport

import (
	"errors"
	"io"

	"github.com/SkynetNext/localipc/internal/cmsg"
	"github.com/SkynetNext/localipc/internal/logger"
	"github.com/SkynetNext/localipc/internal/metrics"
	"go.uber.org/zap"
)

// ReadAncillary reads payload into p and appends any control data to the
// valid prefix of buf. The facts of the receive are recorded in buf's
// collector. When buf cannot grow to MinAncillarySpare the receive goes
// ahead with the room it has.
func (c *Conn) ReadAncillary(p []byte, buf cmsg.Dyn) (int, error) {
	if c.opts.CheckBuffers {
		buf = cmsg.Check[cmsg.Collector](buf)
	}
	if want := c.opts.MinAncillarySpare; want > 0 {
		if err := cmsg.EnsureSpare(buf, want); err != nil {
			metrics.ReserveFailures.WithLabelValues(reserveReason(err)).Inc()
			logger.Debug("ancillary buffer did not grow, receiving with available room",
				zap.Int("want", want),
				zap.Int("spare", cmsg.Spare(buf)),
				zap.Error(err),
			)
		}
	}

	valid, spare := cmsg.SplitAtInit(buf)
	n, oobn, flags, _, err := c.uc.ReadMsgUnix(p, spare)
	c.bytesIn.Add(int64(n))

	if oobn > 0 || flags != 0 {
		buf.SetLen(len(valid) + oobn)
		facts := cmsg.Inspect(spare[:oobn], flags)
		buf.ContextMut().Collect(facts)

		metrics.AncillaryBytes.WithLabelValues("in").Add(float64(oobn))
		metrics.DescriptorsPassed.WithLabelValues("in").Add(float64(facts.Rights))
		if facts.Truncated {
			metrics.AncillaryTruncated.Inc()
		}
	}
	if err == nil && n == 0 && oobn == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, err
}

// WriteAncillary queues p together with the valid prefix of buf. Any
// descriptors referenced by buf must stay open until Flush returns.
func (c *Conn) WriteAncillary(p []byte, buf cmsg.Dyn) (int, error) {
	oob := cmsg.Valid(buf)
	o := outgoing{
		payload: append([]byte(nil), p...),
		oob:     append([]byte(nil), oob...),
	}
	if len(o.oob) > 0 && len(o.payload) == 0 {
		// Stream sockets drop control data sent without payload.
		o.payload = []byte{0}
	}
	if err := c.enqueue(o); err != nil {
		return 0, err
	}
	facts := cmsg.Inspect(o.oob, 0)
	metrics.AncillaryBytes.WithLabelValues("out").Add(float64(len(o.oob)))
	metrics.DescriptorsPassed.WithLabelValues("out").Add(float64(facts.Rights))
	return len(p), nil
}

func reserveReason(err error) string {
	if errors.Is(err, cmsg.ErrReserveUnsupported) {
		return "unsupported"
	}
	return "allocation"
}
