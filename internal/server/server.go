// Package server is the session layer between a transport and the engine. It
// runs entirely on the simulation loop: every Tick polls the transport,
// handles messages, steps the engine and broadcasts both lanes.
package server

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"tickcore.dev/internal/persistence/snapshot"
	"tickcore.dev/internal/protocol"
	"tickcore.dev/internal/sim/command"
	"tickcore.dev/internal/sim/engine"
	"tickcore.dev/internal/sim/repop"
	"tickcore.dev/internal/sim/tick"
	"tickcore.dev/internal/sim/world"
	"tickcore.dev/internal/transport"
)

type Ingress struct {
	CommandsPerSecond float64
	CommandsBurst     int
	PingsPerSecond    float64
}

type Config struct {
	TickRateHz      int
	MaxCatchUpTicks int
	// ResumeGraceTicks is how long a disconnected avatar waits for its
	// resume token before it is despawned.
	ResumeGraceTicks   int64
	SnapshotEveryTicks int64
	Ingress            Ingress
	Clock              tick.Clock
}

// TickLogger journals executed ticks.
type TickLogger interface {
	WriteTick(engine.TickRecord) error
}

// AuditLogger records rejected submissions.
type AuditLogger interface {
	WriteAudit(AuditEntry) error
}

// SnapshotSink persists periodic snapshots.
type SnapshotSink interface {
	WriteSnapshot(snapshot.SnapshotV1) error
}

// Observer receives a summary of every tick. It must not block.
type Observer interface {
	ObserveTick(TickSummary)
}

type AuditEntry struct {
	Tick       int64  `json:"tick"`
	Conn       uint32 `json:"conn"`
	Reason     string `json:"reason"`
	ClientTick int64  `json:"client_tick,omitempty"`
	ClientSeq  uint32 `json:"client_seq,omitempty"`
	Commands   int    `json:"commands,omitempty"`
}

type TickSummary struct {
	Tick          int64                  `json:"tick"`
	Hash          uint32                 `json:"hash"`
	ReliableOps   int                    `json:"reliable_ops"`
	SampleOps     int                    `json:"sample_ops"`
	Sessions      int                    `json:"sessions"`
	Notifications []world.Notification   `json:"notifications,omitempty"`
	Entities      []protocol.EntityState `json:"entities"`
}

type Stats struct {
	Ticks         uint64
	Accepted      uint64
	Rejected      uint64
	Malformed     uint64
	Resyncs       uint64
	PingsDropped  uint64
	SendErrors    uint64
	EncodeErrors  uint64
	Notifications uint64
}

type Server struct {
	cfg Config
	eng *engine.Engine
	tr  transport.Transport
	log *log.Logger
	enc *protocol.Encoder

	sessions map[transport.ConnID]*session
	detached map[string]detached

	tickLog  TickLogger
	audit    AuditLogger
	snaps    SnapshotSink
	observer Observer

	clock  tick.Clock
	start  time.Time
	events []transport.Event
	notes  []world.Notification
	stats  Stats
}

func New(cfg Config, eng *engine.Engine, tr transport.Transport, logger *log.Logger) *Server {
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 20
	}
	if cfg.Clock == nil {
		cfg.Clock = tick.SystemClock{}
	}
	if cfg.Ingress.CommandsPerSecond <= 0 {
		cfg.Ingress.CommandsPerSecond = 60
	}
	if cfg.Ingress.CommandsBurst <= 0 {
		cfg.Ingress.CommandsBurst = 30
	}
	if cfg.Ingress.PingsPerSecond <= 0 {
		cfg.Ingress.PingsPerSecond = 4
	}
	return &Server{
		cfg:      cfg,
		eng:      eng,
		tr:       tr,
		log:      logger,
		enc:      protocol.NewEncoder(),
		sessions: map[transport.ConnID]*session{},
		detached: map[string]detached{},
		clock:    cfg.Clock,
		start:    cfg.Clock.Now(),
	}
}

func (s *Server) SetTickLogger(l TickLogger)     { s.tickLog = l }
func (s *Server) SetAuditLogger(l AuditLogger)   { s.audit = l }
func (s *Server) SetSnapshotSink(k SnapshotSink) { s.snaps = k }
func (s *Server) SetObserver(o Observer)         { s.observer = o }

func (s *Server) Engine() *engine.Engine { return s.eng }

func (s *Server) Stats() Stats { return s.stats }

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

// nowMs is server time in milliseconds since start.
func (s *Server) nowMs() float64 {
	return float64(s.clock.Now().Sub(s.start)) / float64(time.Millisecond)
}

// Run drives Tick at the configured rate until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	r := tick.NewRunner(tick.Config{
		TickRateHz:      s.cfg.TickRateHz,
		MaxCatchUpTicks: s.cfg.MaxCatchUpTicks,
		Clock:           s.clock,
	})
	return r.Run(ctx, func(uint64) { s.Tick() })
}

// DespawnOrphans removes player avatars left by a previous process,
// including those detached and waiting for a resume. Used after resuming
// from a snapshot.
func (s *Server) DespawnOrphans() int {
	w := s.eng.World()
	var ids []int32
	for _, id := range w.IDs() {
		if e, _ := w.Get(id); e.Avatar || e.Owner != command.EngineConn {
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		s.eng.Despawn(ids...)
	}
	return len(ids)
}

// Tick runs one full server step.
func (s *Server) Tick() engine.TickResult {
	s.events = s.tr.Poll(s.events[:0])
	for _, ev := range s.events {
		s.handleEvent(ev)
	}

	res := s.eng.Step()
	s.stats.Ticks++
	s.expireDetached(res.Tick)
	s.broadcast(res)

	s.notes = s.eng.DrainNotifications(s.notes[:0])
	s.stats.Notifications += uint64(len(s.notes))

	if s.tickLog != nil {
		if err := s.tickLog.WriteTick(res.Record()); err != nil {
			s.logf("tick log: %v", err)
		}
	}
	if s.snaps != nil && s.cfg.SnapshotEveryTicks > 0 && res.Tick%s.cfg.SnapshotEveryTicks == 0 {
		if err := s.snaps.WriteSnapshot(s.eng.ExportSnapshot(s.cfg.TickRateHz)); err != nil {
			s.logf("snapshot tick %d: %v", res.Tick, err)
		}
	}
	if s.observer != nil {
		s.observer.ObserveTick(TickSummary{
			Tick:          res.Tick,
			Hash:          res.Hash,
			ReliableOps:   len(res.Reliable),
			SampleOps:     len(res.Sample),
			Sessions:      len(s.sessions),
			Notifications: append([]world.Notification(nil), s.notes...),
			Entities:      s.eng.World().Snapshot(),
		})
	}
	return res
}

func (s *Server) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		s.sessions[ev.Conn] = &session{
			conn:         ev.Conn,
			lastSeenTick: s.eng.LastTick(),
			cmdLimiter:   rate.NewLimiter(rate.Limit(s.cfg.Ingress.CommandsPerSecond), s.cfg.Ingress.CommandsBurst),
			pingLimiter:  rate.NewLimiter(rate.Limit(s.cfg.Ingress.PingsPerSecond), 2),
		}
	case transport.EventDisconnected:
		s.dropSession(ev.Conn)
	case transport.EventMessage:
		sess, ok := s.sessions[ev.Conn]
		if !ok {
			return
		}
		sess.lastSeenTick = s.eng.LastTick()
		s.handleMessage(sess, ev.Payload)
	}
}

func (s *Server) dropSession(conn transport.ConnID) {
	sess, ok := s.sessions[conn]
	if !ok {
		return
	}
	delete(s.sessions, conn)
	if !sess.welcome || sess.avatar == 0 {
		return
	}
	if s.cfg.ResumeGraceTicks <= 0 {
		s.eng.Despawn(sess.avatar)
		return
	}
	s.eng.Reassign(sess.avatar, command.EngineConn)
	s.detached[sess.token] = detached{avatar: sess.avatar, since: s.eng.LastTick()}
}

func (s *Server) expireDetached(now int64) {
	if len(s.detached) == 0 {
		return
	}
	tokens := make([]string, 0, len(s.detached))
	for tok, d := range s.detached {
		if now-d.since > s.cfg.ResumeGraceTicks {
			tokens = append(tokens, tok)
		}
	}
	sort.Strings(tokens)
	for _, tok := range tokens {
		s.eng.Despawn(s.detached[tok].avatar)
		delete(s.detached, tok)
	}
}

func (s *Server) handleMessage(sess *session, b []byte) {
	kind, err := protocol.PeekKind(b)
	if err != nil {
		s.stats.Malformed++
		return
	}
	if !sess.welcome && kind != protocol.KindHello {
		return
	}
	switch kind {
	case protocol.KindHello:
		s.handleHello(sess, b)
	case protocol.KindCommands:
		s.handleCommands(sess, b)
	case protocol.KindPing:
		s.handlePing(sess, b)
	case protocol.KindAck:
		m, err := protocol.UnmarshalAck(b)
		if err != nil {
			s.stats.Malformed++
			return
		}
		// Acks for messages not yet sent since the last baseline are stale.
		if m.ReliableSeq >= sess.nextReliableSeq {
			return
		}
		if !sess.acked || m.ReliableSeq > sess.lastAckedReliableSeq {
			sess.lastAckedReliableSeq = m.ReliableSeq
			sess.acked = true
		}
	case protocol.KindResyncRequest:
		m, err := protocol.UnmarshalResyncRequest(b)
		if err != nil {
			s.stats.Malformed++
			return
		}
		s.stats.Resyncs++
		s.logf("conn %d: resync requested (%s)", sess.conn, m.Reason)
		s.sendBaseline(sess)
	default:
		s.stats.Malformed++
	}
}

func (s *Server) handleHello(sess *session, b []byte) {
	if sess.welcome {
		return
	}
	m, err := protocol.UnmarshalHello(b)
	if err != nil {
		s.stats.Malformed++
		s.tr.Disconnect(sess.conn)
		return
	}

	if d, ok := s.detached[m.ResumeToken]; ok && m.ResumeToken != "" {
		delete(s.detached, m.ResumeToken)
		sess.avatar = d.avatar
		sess.token = m.ResumeToken
		s.eng.Reassign(d.avatar, sess.cmdConn())
		s.logf("conn %d: resumed avatar %d", sess.conn, d.avatar)
	} else {
		sess.avatar = s.eng.SpawnOwned(sess.cmdConn())
		sess.token = uuid.NewString()
	}
	sess.welcome = true

	bc := s.eng.BufferConfig()
	welcome := protocol.WelcomeMsg{
		ConnID:         uint32(sess.conn),
		AvatarID:       sess.avatar,
		ServerTick:     int32(s.eng.LastTick()),
		ServerTimeMs:   s.nowMs(),
		TickRateHz:     uint16(s.cfg.TickRateHz),
		MaxPastTicks:   uint8(bc.MaxPastTicks),
		MaxFutureTicks: uint8(bc.MaxFutureTicks),
		ResumeToken:    sess.token,
	}
	wb, err := welcome.Marshal()
	if err != nil {
		s.logf("conn %d: welcome: %v", sess.conn, err)
		s.tr.Disconnect(sess.conn)
		return
	}
	s.send(sess, transport.LaneReliable, wb)
	s.sendBaseline(sess)
}

func (s *Server) sendBaseline(sess *session) {
	b, err := s.eng.Baseline().Marshal()
	if err != nil {
		s.logf("conn %d: baseline: %v", sess.conn, err)
		s.tr.Disconnect(sess.conn)
		return
	}
	sess.nextReliableSeq = 0
	sess.acked = false
	sess.lastAckedReliableSeq = 0
	s.send(sess, transport.LaneReliable, b)
}

func (s *Server) handleCommands(sess *session, b []byte) {
	m, err := protocol.UnmarshalCommands(b)
	if err != nil {
		s.stats.Malformed++
		s.auditReject(sess, "malformed", 0, 0, 0)
		return
	}
	reject := func(r command.RejectReason) {
		s.stats.Rejected++
		s.auditReject(sess, r.String(), int64(m.ClientTick), m.ClientSeq, len(m.Commands))
	}
	if sess.hasClientSeq && m.ClientSeq <= sess.lastClientSeq {
		reject(command.RejectDuplicate)
		return
	}
	if !sess.cmdLimiter.AllowN(s.clock.Now(), 1) {
		reject(command.RejectRateLimited)
		return
	}
	if _, r := s.eng.Enqueue(sess.cmdConn(), int64(m.ClientTick), m.ClientSeq, m.Commands); r != command.Accepted {
		reject(r)
		return
	}
	sess.lastClientSeq = m.ClientSeq
	sess.hasClientSeq = true
	s.stats.Accepted++
}

func (s *Server) handlePing(sess *session, b []byte) {
	m, err := protocol.UnmarshalPing(b)
	if err != nil {
		s.stats.Malformed++
		return
	}
	if !sess.pingLimiter.AllowN(s.clock.Now(), 1) {
		s.stats.PingsDropped++
		return
	}
	pong := protocol.PongMsg{
		PingID:           m.PingID,
		ClientTimeMsEcho: m.ClientTimeMs,
		ServerTimeMs:     s.nowMs(),
		ServerTick:       int32(s.eng.LastTick()),
	}
	s.send(sess, transport.LaneReliable, pong.Marshal())
}

func (s *Server) auditReject(sess *session, reason string, clientTick int64, seq uint32, n int) {
	if s.audit == nil {
		return
	}
	e := AuditEntry{
		Tick:       s.eng.CurrentTick(),
		Conn:       uint32(sess.conn),
		Reason:     reason,
		ClientTick: clientTick,
		ClientSeq:  seq,
		Commands:   n,
	}
	if err := s.audit.WriteAudit(e); err != nil {
		s.logf("audit: %v", err)
	}
}

func (s *Server) send(sess *session, lane transport.Lane, b []byte) {
	if err := s.tr.Send(sess.conn, lane, b); err != nil {
		s.stats.SendErrors++
		if !errors.Is(err, transport.ErrUnknownConn) {
			s.logf("conn %d: send %s: %v", sess.conn, lane, err)
		}
	}
}

// broadcast sends this tick's ops to every welcomed session, connections
// ascending. Reliable messages carry a per-connection sequence.
func (s *Server) broadcast(res engine.TickResult) {
	if len(s.sessions) == 0 {
		return
	}
	conns := make([]transport.ConnID, 0, len(s.sessions))
	for c, sess := range s.sessions {
		if sess.welcome {
			conns = append(conns, c)
		}
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i] < conns[j] })

	if len(res.Reliable) > 0 {
		msg, err := s.enc.BuildOpsMsg(repop.LaneReliable, res.Tick, res.Hash, 0, res.Reliable)
		if err != nil {
			// One reliable message per tick; a lane that does not fit
			// forces a rebaseline.
			s.stats.EncodeErrors++
			s.logf("tick %d: reliable ops: %v", res.Tick, err)
			for _, c := range conns {
				s.sendBaseline(s.sessions[c])
			}
		} else {
			for _, c := range conns {
				sess := s.sessions[c]
				msg.ServerSeq = sess.nextReliableSeq
				sess.nextReliableSeq++
				s.send(sess, transport.LaneReliable, msg.Marshal())
			}
		}
	}
	if len(res.Sample) > 0 {
		msg, err := s.enc.BuildOpsMsg(repop.LaneSample, res.Tick, res.Hash, 0, res.Sample)
		if err != nil {
			s.stats.EncodeErrors++
			s.logf("tick %d: sample ops: %v", res.Tick, err)
			return
		}
		b := msg.Marshal()
		for _, c := range conns {
			s.send(s.sessions[c], transport.LaneSample, b)
		}
	}
}

// Sessions lists connected sessions ascending by connection.
func (s *Server) Sessions() []SessionInfo {
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, SessionInfo{
			Conn:                 sess.conn,
			Avatar:               sess.avatar,
			NextReliableSeq:      sess.nextReliableSeq,
			LastAckedReliableSeq: sess.lastAckedReliableSeq,
			Unacked:              sess.unacked(),
			LastSeenTick:         sess.lastSeenTick,
			LastClientSeq:        sess.lastClientSeq,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Conn < out[j].Conn })
	return out
}

// Detached is the number of avatars waiting for a resume.
func (s *Server) Detached() int { return len(s.detached) }
