package client

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	v1 "github.com/pojntfx/tremote/pkg/api/http/v1"
	"github.com/pojntfx/tremote/pkg/mapper"
	"github.com/rs/zerolog/log"
)

const (
	MethodSessionGet        = "session-get"
	MethodSessionSet        = "session-set"
	MethodSessionStats      = "session-stats"
	MethodFreeSpace         = "free-space"
	MethodTorrentGet        = "torrent-get"
	MethodTorrentAdd        = "torrent-add"
	MethodTorrentRemove     = "torrent-remove"
	MethodTorrentStart      = "torrent-start"
	MethodTorrentStartNow   = "torrent-start-now"
	MethodTorrentStop       = "torrent-stop"
	MethodTorrentVerify     = "torrent-verify"
	MethodTorrentReannounce = "torrent-reannounce"
)

// Action is a torrent method that takes nothing but ids.
type Action string

const (
	ActionStart      Action = MethodTorrentStart
	ActionStartNow   Action = MethodTorrentStartNow
	ActionStop       Action = MethodTorrentStop
	ActionVerify     Action = MethodTorrentVerify
	ActionReannounce Action = MethodTorrentReannounce
)

// ParseAction accepts an action with or without its torrent- prefix.
func ParseAction(s string) (Action, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(name, "torrent-") {
		name = "torrent-" + name
	}

	a := Action(name)
	if !a.valid() {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAction, s)
	}

	return a, nil
}

func (a Action) valid() bool {
	switch a {
	case ActionStart, ActionStartNow, ActionStop, ActionVerify, ActionReannounce:
		return true
	default:
		return false
	}
}

// Handshake refreshes the session id and negotiates the protocol version.
func (c *Client) Handshake(ctx context.Context) (HandshakeState, error) {
	res, err := c.Call(ctx, MethodSessionGet, map[string]v1.Value{
		"fields": v1.Strings("version", "rpc-version", "rpc-version-minimum"),
	})
	if err != nil {
		return HandshakeState{}, err
	}

	info, err := mapper.MapHandshake(res, MethodSessionGet)
	if err != nil {
		return HandshakeState{}, err
	}

	negotiated, compatible := c.opts.negotiate(info.RPCVersion, info.RPCVersionMinimum)

	c.mu.Lock()
	state := HandshakeState{
		SessionID:         c.sessionID,
		RPCVersion:        negotiated,
		ServerRPCVersion:  info.RPCVersion,
		RPCVersionMinimum: info.RPCVersionMinimum,
		ServerVersion:     info.ServerVersion,
		Compatible:        compatible,
	}
	c.handshake = &state
	c.mu.Unlock()

	log.Debug().
		Str("endpoint", c.endpoint).
		Str("server", info.ServerVersion).
		Int64("rpcVersion", negotiated).
		Bool("compatible", compatible).
		Msg("Completed handshake")

	return state, nil
}

func (c *Client) SessionGet(ctx context.Context) (mapper.SessionState, error) {
	res, err := c.Call(ctx, MethodSessionGet, nil)
	if err != nil {
		return mapper.SessionState{}, err
	}

	return mapper.MapSessionState(res, MethodSessionGet)
}

// SessionUpdate lists the session-set fields to change. Nil fields are left
// untouched.
type SessionUpdate struct {
	DownloadDir *string

	SpeedLimitDown        *int64
	SpeedLimitDownEnabled *bool
	SpeedLimitUp          *int64
	SpeedLimitUpEnabled   *bool

	AltSpeedDown    *int64
	AltSpeedUp      *int64
	AltSpeedEnabled *bool

	DownloadQueueSize    *int64
	DownloadQueueEnabled *bool
	SeedQueueSize        *int64
	SeedQueueEnabled     *bool
}

func (u SessionUpdate) arguments() map[string]v1.Value {
	args := map[string]v1.Value{}

	setString := func(key string, v *string) {
		if v != nil {
			args[key] = v1.String(*v)
		}
	}
	setInt := func(key string, v *int64) {
		if v != nil {
			args[key] = v1.Int(*v)
		}
	}
	setBool := func(key string, v *bool) {
		if v != nil {
			args[key] = v1.Bool(*v)
		}
	}

	setString("download-dir", u.DownloadDir)
	setInt("speed-limit-down", u.SpeedLimitDown)
	setBool("speed-limit-down-enabled", u.SpeedLimitDownEnabled)
	setInt("speed-limit-up", u.SpeedLimitUp)
	setBool("speed-limit-up-enabled", u.SpeedLimitUpEnabled)
	setInt("alt-speed-down", u.AltSpeedDown)
	setInt("alt-speed-up", u.AltSpeedUp)
	setBool("alt-speed-enabled", u.AltSpeedEnabled)
	setInt("download-queue-size", u.DownloadQueueSize)
	setBool("download-queue-enabled", u.DownloadQueueEnabled)
	setInt("seed-queue-size", u.SeedQueueSize)
	setBool("seed-queue-enabled", u.SeedQueueEnabled)

	return args
}

func (c *Client) SessionSet(ctx context.Context, update SessionUpdate) error {
	args := update.arguments()
	if len(args) == 0 {
		return ErrEmptyUpdate
	}

	res, err := c.Call(ctx, MethodSessionSet, args)
	if err != nil {
		return err
	}

	return mapper.MapAck(res, MethodSessionSet)
}

func (c *Client) SessionStats(ctx context.Context) (mapper.SessionStats, error) {
	res, err := c.Call(ctx, MethodSessionStats, nil)
	if err != nil {
		return mapper.SessionStats{}, err
	}

	return mapper.MapSessionStats(res, MethodSessionStats)
}

func (c *Client) FreeSpace(ctx context.Context, path string) (mapper.Storage, error) {
	res, err := c.Call(ctx, MethodFreeSpace, map[string]v1.Value{
		"path": v1.String(path),
	})
	if err != nil {
		return mapper.Storage{}, err
	}

	return mapper.MapFreeSpace(res, MethodFreeSpace)
}

// TorrentSummaries lists the given torrents, or all of them when no ids are
// passed.
func (c *Client) TorrentSummaries(ctx context.Context, ids ...int64) ([]mapper.Torrent, error) {
	args := map[string]v1.Value{
		"fields": v1.Strings(mapper.SummaryFields...),
	}
	if len(ids) > 0 {
		args["ids"] = v1.Ints(ids...)
	}

	res, err := c.Call(ctx, MethodTorrentGet, args)
	if err != nil {
		return nil, err
	}

	return mapper.MapTorrentSummaries(res, MethodTorrentGet)
}

func (c *Client) TorrentDetails(ctx context.Context, id int64) (mapper.Torrent, error) {
	res, err := c.Call(ctx, MethodTorrentGet, map[string]v1.Value{
		"fields": v1.Strings(mapper.DetailFields...),
		"ids":    v1.Ints(id),
	})
	if err != nil {
		return mapper.Torrent{}, err
	}

	return mapper.MapTorrentDetails(res, MethodTorrentGet, id)
}

// AddRequest adds a torrent either by magnet link or URL (Filename) or by
// the raw contents of a .torrent file (Metainfo).
type AddRequest struct {
	Filename    string
	Metainfo    []byte
	DownloadDir string
	Paused      bool
}

func (r AddRequest) arguments() (map[string]v1.Value, error) {
	hasFilename := strings.TrimSpace(r.Filename) != ""
	if hasFilename == (len(r.Metainfo) > 0) {
		return nil, ErrInvalidAddRequest
	}

	args := map[string]v1.Value{
		"paused": v1.Bool(r.Paused),
	}
	if hasFilename {
		args["filename"] = v1.String(strings.TrimSpace(r.Filename))
	} else {
		args["metainfo"] = v1.String(base64.StdEncoding.EncodeToString(r.Metainfo))
	}
	if r.DownloadDir != "" {
		args["download-dir"] = v1.String(r.DownloadDir)
	}

	return args, nil
}

func (c *Client) TorrentAdd(ctx context.Context, req AddRequest) (mapper.TorrentAddResult, error) {
	args, err := req.arguments()
	if err != nil {
		return mapper.TorrentAddResult{}, err
	}

	res, err := c.Call(ctx, MethodTorrentAdd, args)
	if err != nil {
		return mapper.TorrentAddResult{}, err
	}

	return mapper.MapTorrentAdd(res, MethodTorrentAdd)
}

func (c *Client) TorrentAction(ctx context.Context, action Action, ids ...int64) error {
	if !action.valid() {
		return fmt.Errorf("%w: %s", ErrUnsupportedAction, action)
	}
	if len(ids) == 0 {
		return ErrMissingIDs
	}

	log.Debug().
		Str("action", string(action)).
		Str("ids", formatIDs(ids)).
		Msg("Applying torrent action")

	res, err := c.Call(ctx, string(action), map[string]v1.Value{
		"ids": v1.Ints(ids...),
	})
	if err != nil {
		return err
	}

	return mapper.MapAck(res, string(action))
}

func (c *Client) TorrentRemove(ctx context.Context, deleteLocalData bool, ids ...int64) error {
	if len(ids) == 0 {
		return ErrMissingIDs
	}

	log.Debug().
		Str("ids", formatIDs(ids)).
		Bool("deleteLocalData", deleteLocalData).
		Msg("Removing torrents")

	res, err := c.Call(ctx, MethodTorrentRemove, map[string]v1.Value{
		"ids":               v1.Ints(ids...),
		"delete-local-data": v1.Bool(deleteLocalData),
	})
	if err != nil {
		return err
	}

	return mapper.MapAck(res, MethodTorrentRemove)
}
