package server

import (
	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"
)

func (s *Server) probeLoop(ticker *clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.probe()
		}
	}
}

// probe terminates every connection that stayed silent since the previous probe and pings the rest.
// A pong or any inbound frame marks a connection alive again.
func (s *Server) probe() {
	conns := s.snapshotConns()
	defer func() {
		round := s.probeRounds.Add(1)
		log.Tracef("liveness probe round %d done, %d connections", round, len(conns))
	}()

	for _, c := range conns {
		if c.isClosed() {
			continue
		}

		if !c.alive.Swap(false) {
			p := c.bound()
			if p != nil {
				c.log.Warnf("terminating unresponsive connection of peer [%s]", p.Id)
			} else {
				c.log.Warnf("terminating unresponsive connection")
			}
			s.metrics.ProbeTerminations.Add(s.ctx, 1)
			s.unbind(c)
			c.terminate()
			continue
		}

		go c.ping(s.ctx, s.probeInterval)
	}
}
