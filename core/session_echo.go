package core

import "time"

const messageTypeEcho = "echo"

// startEchoLoop submits a probe echo container at the given interval until
// the returned channel is closed, giving both peers a liveness signal
// independent of application traffic. A probe carries no "response" value;
// the responding peer sets one and swaps the header back.
func (s *Session) startEchoLoop(interval time.Duration) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-s.closed:
				return
			case <-ticker.C:
				probe := NewContainer()
				probe.SetMessageType(messageTypeEcho)
				probe.SetSource(s.opts.SourceID, s.opts.SourceSubID)
				if err := s.sendControlContainer(probe); err != nil {
					s.log.WithError(err).Debug("echo probe failed")
				}
			}
		}
	}()
	return stop
}

// handleEchoContainer implements the echo sub-protocol: a probe (response
// absent or false) gets its header swapped, response set true, and is sent
// straight back; a reply (response true) is just logged. There is no retry.
func (s *Session) handleEchoContainer(c *Container) error {
	if c.GetValue("response", 0).ToBool() {
		s.log.Debug("echo round trip acknowledged")
		return nil
	}
	c.SwapHeader()
	c.SetMessageType(messageTypeEcho)
	c.Remove("response")
	c.Add(NewBool("response", true))
	return s.sendControlContainer(c)
}
