package orch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dkeye/Broadcast/internal/app"
	"github.com/dkeye/Broadcast/internal/core"
	"github.com/dkeye/Broadcast/internal/domain"
	"github.com/rs/zerolog/log"
)

// Connect registers a freshly accepted session in its room. When a
// producer is already visible there the session is told right away.
func (o *Orchestrator) Connect(ctx context.Context, sess core.MemberSession, cancel context.CancelFunc) {
	sid, room := sess.ID(), sess.RoomID()
	o.Registry.Bind(sess, cancel)

	o.Slots.View(room, func(p app.ActiveProducer, ok bool) {
		o.Rooms.Join(room, sess)
		if !ok {
			return
		}
		frame := core.NewNotification(core.NotifyNewProducer, core.ProducerEvent{ProducerID: p.ProducerID})
		if err := sess.Signal().TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("newProducer on join dropped")
		}
	})

	if o.Presence != nil {
		if err := o.Presence.MarkJoined(ctx, room, sid); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("presence join")
		}
	}
	meta := sess.Meta()
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room)).
		Str("device", meta.DeviceName).Str("user_id", string(userOf(meta))).Str("client", meta.ClientToken).Msg("session connected")
}

// Disconnect tears a session down. Only the first call for a sid does
// anything; cleanup errors are logged and swallowed.
func (o *Orchestrator) Disconnect(sid core.SessionID) {
	room, sess, ok := o.Registry.RoomOf(sid)
	if !ok || !o.Registry.Unbind(sid) {
		return
	}
	rel, first := sess.Media().Close()
	if first && o.release(room, rel) {
		o.saveRecord(room, sess.Meta())
	}
	removed := o.Rooms.Leave(room, sid)

	if o.Presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := o.Presence.MarkLeft(ctx, room, sid); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("presence leave")
		}
		cancel()
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room)).
		Bool("left_room", removed).Msg("session disconnected")
}

func (o *Orchestrator) saveRecord(room domain.RoomID, meta *domain.Member) {
	if o.Records == nil || !meta.Authenticated() {
		return
	}
	ext := o.Opts.RecordingExt
	if ext == "" {
		ext = ".webm"
	}
	now := time.Now().UTC()
	rec := domain.MediaRecord{
		RoomID:     room,
		HostUserID: meta.User.ID,
		SavePath:   filepath.Join(o.Opts.RecordingsDir, string(room), string(meta.User.ID)+ext),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Records.SaveMediaRecord(ctx, rec); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("room", string(room)).Str("user_id", string(meta.User.ID)).Msg("save media record")
		return
	}
	log.Info().Str("module", "orch").Str("room", string(room)).Str("path", rec.SavePath).Msg("media record saved")
}

// KickBySID closes the connection behind sid; its read loop disconnects it.
func (o *Orchestrator) KickBySID(sid core.SessionID) bool {
	return o.Registry.Cancel(sid)
}

// EvictRoom kicks every member of room and drops the room record.
func (o *Orchestrator) EvictRoom(room domain.RoomID) {
	for _, snap := range o.Registry.SessionsInRoom(room) {
		o.KickBySID(snap.SID)
	}
	o.Rooms.StopRoom(room)
}

type WhoAmI struct {
	SID         core.SessionID `json:"sid"`
	Room        domain.RoomID  `json:"room"`
	UserID      domain.UserID  `json:"userId,omitempty"`
	DeviceName  string         `json:"deviceName"`
	ClientToken string         `json:"clientToken,omitempty"`
	Producer    string         `json:"producerPhase"`
	Consumer    string         `json:"consumerPhase"`
}

func (o *Orchestrator) WhoAmI(sid core.SessionID) (WhoAmI, error) {
	sess, err := o.session(sid)
	if err != nil {
		return WhoAmI{}, err
	}
	meta := sess.Meta()
	return WhoAmI{
		SID:         sid,
		Room:        sess.RoomID(),
		UserID:      userOf(meta),
		DeviceName:  meta.DeviceName,
		ClientToken: meta.ClientToken,
		Producer:    sess.Media().ProducerPhase().String(),
		Consumer:    sess.Media().ConsumerPhase().String(),
	}, nil
}

// Members lists the sessions of room for the REST surface.
func (o *Orchestrator) Members(room domain.RoomID) ([]core.MemberDTO, error) {
	rs, ok := o.Rooms.Get(room)
	if !ok {
		return nil, fmt.Errorf("%w: room %s not found", core.ErrInvalidState, room)
	}
	return rs.MembersSnapshot(), nil
}

func userOf(m *domain.Member) domain.UserID {
	if m == nil || m.User == nil {
		return ""
	}
	return m.User.ID
}
