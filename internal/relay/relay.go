package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/quietriver/chatrelay/internal/ai"
	"github.com/quietriver/chatrelay/internal/common"
	"github.com/quietriver/chatrelay/internal/logger"
	"github.com/quietriver/chatrelay/internal/room"
)

// ParamsSource supplies the upstream configuration snapshot consumed at
// request start.
type ParamsSource interface {
	ModelParameters(ctx context.Context) ai.Params
}

// Update is one snapshot plus the thread linkage the client needs to
// continue the conversation from this turn.
type Update struct {
	ai.Snapshot
	ParentMessageID string
}

// Sink receives each upstream snapshot as soon as it arrives. Writes
// are synchronous; the upstream read does not get ahead of the sink.
type Sink func(u Update) error

// Service drives one turn through authorize -> build context -> stream
// -> commit. Concurrent requests share nothing but the database.
type Service struct {
	rooms        *room.Repo
	providers    *ai.Registry
	providerName string
	params       ParamsSource
	log          *logger.Logger
}

func NewService(rooms *room.Repo, providers *ai.Registry, providerName string, params ParamsSource, log *logger.Logger) *Service {
	if providerName == "" {
		providerName = "thread"
	}
	return &Service{
		rooms:        rooms,
		providers:    providers,
		providerName: providerName,
		params:       params,
		log:          log,
	}
}

type Request struct {
	UserID     uint64
	RoomID     int64
	UUID       int64
	Prompt     string
	Regenerate bool
}

type Result struct {
	UUID      int64
	Text      string
	MessageID string // upstream id of the reply
}

// Send runs the whole turn. A nil sink buffers and returns only the
// final text; a non-nil sink gets every snapshot first. On success the
// final (text, upstream id) is committed to the anchored message row
// exactly once. A failed commit is logged as a durability failure and
// not surfaced: the client already saw the reply.
func (s *Service) Send(ctx context.Context, req Request, sink Sink) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Authorizing. A foreign room and a missing room are the same thing.
	rm, err := s.rooms.GetRoom(ctx, req.UserID, req.RoomID)
	if err != nil {
		return nil, err
	}

	// ContextBuilding. The message row is the durability anchor: it
	// exists before the upstream call so a crash mid-stream leaves a
	// recoverable empty-response row, not an orphaned request.
	msg, prompt, parent, err := s.anchorMessage(ctx, rm, req)
	if err != nil {
		return nil, err
	}

	// Streaming.
	params := s.params.ModelParameters(ctx)
	provider, err := s.providers.Get(s.providerName, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrUpstream, err)
	}

	snaps, errs := provider.Send(ctx, prompt, parent, params)

	var last ai.Snapshot
	for snap := range snaps {
		last = snap
		if sink == nil {
			continue
		}
		if err := sink(Update{Snapshot: snap, ParentMessageID: parent}); err != nil {
			// Client gone: cancel the upstream call, commit nothing.
			// The anchored row stays available for a regenerate.
			cancel()
			for range snaps {
			}
			<-errs
			return nil, err
		}
	}
	if err := <-errs; err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", common.ErrUpstream, err)
	}
	if !last.Done {
		return nil, fmt.Errorf("%w: stream ended without terminal snapshot", common.ErrUpstream)
	}

	// Committing. Single writer per message row, so no read-modify-write.
	if err := s.rooms.UpdateMessageResult(ctx, msg.ID, last.Text, last.MessageID); err != nil {
		s.log.Error("durability failure: reply delivered but not committed",
			"err", err,
			"kind", common.ErrDurability,
			"room_id", req.RoomID,
			"uuid", msg.UUID,
			"upstream_message_id", last.MessageID,
		)
	}

	return &Result{UUID: msg.UUID, Text: last.Text, MessageID: last.MessageID}, nil
}

// anchorMessage returns the message row this turn commits into, the
// prompt to send, and the upstream parent id to continue from. A
// regenerate reuses the existing row; history never accumulates
// duplicate rows for retries.
func (s *Service) anchorMessage(ctx context.Context, rm *room.Room, req Request) (*room.Message, string, string, error) {
	if req.Regenerate {
		msg, err := s.rooms.GetMessage(ctx, rm.ID, req.UUID)
		if err != nil {
			return nil, "", "", err
		}
		return msg, msg.Prompt, msg.Opt.ParentMessageID, nil
	}

	history, err := s.rooms.ListMessages(ctx, rm.ID, 0, 0)
	if err != nil {
		return nil, "", "", err
	}
	parent := ""
	if link := room.LatestLinkage(history); link != nil {
		parent = link.MessageID
	}

	msg := &room.Message{
		RoomRowID: rm.ID,
		UUID:      req.UUID,
		Prompt:    req.Prompt,
		Status:    room.StatusNormal,
		Opt:       room.Options{ParentMessageID: parent},
	}
	if err := s.rooms.InsertMessage(ctx, msg); err != nil {
		return nil, "", "", err
	}
	return msg, req.Prompt, parent, nil
}
