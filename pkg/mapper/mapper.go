package mapper

import (
	"fmt"
	"sort"

	v1 "github.com/pojntfx/tremote/pkg/api/http/v1"
)

// SummaryFields are the torrent-get fields needed by MapTorrentSummaries.
var SummaryFields = []string{
	"id", "name", "hashString", "status",
	"percentDone", "metadataPercentComplete", "recheckProgress", "uploadRatio",
	"rateDownload", "rateUpload", "totalSize", "sizeWhenDone", "leftUntilDone",
	"uploadedEver", "downloadedEver", "eta", "queuePosition",
	"peersConnected", "peersSendingToUs", "peersGettingFromUs", "peersFrom",
	"error", "errorString", "addedDate", "doneDate", "downloadDir", "isFinished",
}

// DetailFields extends SummaryFields with the payload MapTorrentDetails needs.
var DetailFields = append(append([]string{}, SummaryFields...),
	"comment", "creator", "dateCreated", "pieceCount", "pieceSize",
	"files", "fileStats", "trackers", "trackerStats",
)

var peerSourceNames = map[string]string{
	"fromCache":    "cache",
	"fromDht":      "dht",
	"fromIncoming": "incoming",
	"fromLpd":      "lpd",
	"fromLtep":     "ltep",
	"fromPex":      "pex",
	"fromTracker":  "tracker",
}

func arguments(res v1.Response, context string) (fields, error) {
	if !res.IsSuccess() {
		return fields{}, &RPCError{Result: res.Result, Context: context}
	}

	if res.Arguments == nil {
		return fields{}, &Error{Kind: ErrMissingArguments, Context: context}
	}

	obj, ok := res.Arguments.AsObject()
	if !ok {
		return fields{}, &Error{Kind: ErrMissingArguments, Context: context, Detail: "arguments is " + res.Arguments.Kind().String()}
	}

	return fields{obj: obj, context: context}, nil
}

// MapAck checks a response whose arguments carry nothing of interest.
// Daemons send {} or no arguments at all on acks, so only a non-object is
// rejected.
func MapAck(res v1.Response, context string) error {
	if res.IsSuccess() && (res.Arguments == nil || res.Arguments.IsNull()) {
		return nil
	}

	_, err := arguments(res, context)

	return err
}

func MapHandshake(res v1.Response, context string) (HandshakeInfo, error) {
	args, err := arguments(res, context)
	if err != nil {
		return HandshakeInfo{}, err
	}

	var info HandshakeInfo
	if info.RPCVersion, err = args.int("rpc-version"); err != nil {
		return HandshakeInfo{}, err
	}
	if info.RPCVersionMinimum, err = args.int("rpc-version-minimum"); err != nil {
		return HandshakeInfo{}, err
	}
	if info.ServerVersion, err = args.string("version"); err != nil {
		return HandshakeInfo{}, err
	}

	if info.RPCVersionMinimum > info.RPCVersion {
		return HandshakeInfo{}, args.fail(ErrInvalidValue, "rpc-version-minimum", fmt.Sprintf("%d exceeds rpc-version %d", info.RPCVersionMinimum, info.RPCVersion))
	}

	return info, nil
}

func MapSessionState(res v1.Response, context string) (SessionState, error) {
	args, err := arguments(res, context)
	if err != nil {
		return SessionState{}, err
	}

	var s SessionState
	if s.DownloadDir, err = args.string("download-dir"); err != nil {
		return SessionState{}, err
	}
	if s.Version, err = args.optString("version"); err != nil {
		return SessionState{}, err
	}
	if s.RPCVersion, err = args.optInt("rpc-version", 0); err != nil {
		return SessionState{}, err
	}

	if s.SpeedLimitDown, err = speedLimit(args, "speed-limit-down"); err != nil {
		return SessionState{}, err
	}
	if s.SpeedLimitUp, err = speedLimit(args, "speed-limit-up"); err != nil {
		return SessionState{}, err
	}
	if s.AltSpeedDown, err = args.optInt("alt-speed-down", 0); err != nil {
		return SessionState{}, err
	}
	if s.AltSpeedUp, err = args.optInt("alt-speed-up", 0); err != nil {
		return SessionState{}, err
	}
	if s.AltSpeedEnabled, err = args.optBool("alt-speed-enabled"); err != nil {
		return SessionState{}, err
	}

	if s.DownloadQueue, err = queueLimit(args, "download-queue"); err != nil {
		return SessionState{}, err
	}
	if s.SeedQueue, err = queueLimit(args, "seed-queue"); err != nil {
		return SessionState{}, err
	}

	if free, err := args.optInt("download-dir-free-space", -1); err != nil {
		return SessionState{}, err
	} else if free >= 0 {
		s.Storage = &Storage{Path: s.DownloadDir, FreeBytes: free}
	}

	return s, nil
}

func speedLimit(args fields, prefix string) (SpeedLimit, error) {
	var (
		l   SpeedLimit
		err error
	)
	if l.KBps, err = args.int(prefix); err != nil {
		return SpeedLimit{}, err
	}
	if l.Enabled, err = args.optBool(prefix + "-enabled"); err != nil {
		return SpeedLimit{}, err
	}

	return l, nil
}

func queueLimit(args fields, prefix string) (QueueLimit, error) {
	var (
		l   QueueLimit
		err error
	)
	if l.Size, err = args.optInt(prefix+"-size", 0); err != nil {
		return QueueLimit{}, err
	}
	if l.Enabled, err = args.optBool(prefix + "-enabled"); err != nil {
		return QueueLimit{}, err
	}

	if l.Size < 0 {
		return QueueLimit{}, args.fail(ErrInvalidValue, prefix+"-size", fmt.Sprintf("%d is negative", l.Size))
	}

	return l, nil
}

func MapSessionStats(res v1.Response, context string) (SessionStats, error) {
	args, err := arguments(res, context)
	if err != nil {
		return SessionStats{}, err
	}

	var s SessionStats
	if s.ActiveTorrents, err = args.optInt("activeTorrentCount", 0); err != nil {
		return SessionStats{}, err
	}
	if s.PausedTorrents, err = args.optInt("pausedTorrentCount", 0); err != nil {
		return SessionStats{}, err
	}
	if s.TorrentCount, err = args.optInt("torrentCount", 0); err != nil {
		return SessionStats{}, err
	}
	if s.DownloadSpeed, err = args.optInt("downloadSpeed", 0); err != nil {
		return SessionStats{}, err
	}
	if s.UploadSpeed, err = args.optInt("uploadSpeed", 0); err != nil {
		return SessionStats{}, err
	}

	cumulative, err := args.object("cumulative-stats")
	if err != nil {
		return SessionStats{}, err
	}
	if s.Cumulative, err = transferStats(cumulative); err != nil {
		return SessionStats{}, err
	}

	if current, ok, err := args.optObject("current-stats"); err != nil {
		return SessionStats{}, err
	} else if ok {
		if s.Current, err = transferStats(current); err != nil {
			return SessionStats{}, err
		}
	}

	return s, nil
}

func transferStats(obj fields) (TransferStats, error) {
	var (
		t   TransferStats
		err error
	)
	if t.UploadedBytes, err = obj.int("uploadedBytes"); err != nil {
		return TransferStats{}, err
	}
	if t.DownloadedBytes, err = obj.int("downloadedBytes"); err != nil {
		return TransferStats{}, err
	}
	if t.FilesAdded, err = obj.optInt("filesAdded", 0); err != nil {
		return TransferStats{}, err
	}
	if t.SessionCount, err = obj.optInt("sessionCount", 0); err != nil {
		return TransferStats{}, err
	}
	if t.SecondsActive, err = obj.optInt("secondsActive", 0); err != nil {
		return TransferStats{}, err
	}

	return t, nil
}

func MapFreeSpace(res v1.Response, context string) (Storage, error) {
	args, err := arguments(res, context)
	if err != nil {
		return Storage{}, err
	}

	var s Storage
	if s.Path, err = args.string("path"); err != nil {
		return Storage{}, err
	}
	if s.FreeBytes, err = args.int("size-bytes"); err != nil {
		return Storage{}, err
	}
	if s.TotalBytes, err = args.optInt("total_size", 0); err != nil {
		return Storage{}, err
	}

	if s.FreeBytes < 0 {
		return Storage{}, args.fail(ErrInvalidValue, "size-bytes", fmt.Sprintf("%d is negative", s.FreeBytes))
	}

	return s, nil
}

// MapTorrentSummaries maps every entry of a torrent-get response. An empty
// list is valid.
func MapTorrentSummaries(res v1.Response, context string) ([]Torrent, error) {
	args, err := arguments(res, context)
	if err != nil {
		return nil, err
	}

	items, err := args.array("torrents")
	if err != nil {
		return nil, err
	}

	torrents := make([]Torrent, 0, len(items))
	for i, item := range items {
		obj, err := args.element("torrents", i, item)
		if err != nil {
			return nil, err
		}

		t, err := torrent(obj, false)
		if err != nil {
			return nil, err
		}

		torrents = append(torrents, t)
	}

	return torrents, nil
}

// MapTorrentDetails maps the torrent with the given id, including files and
// trackers. A response without it is an empty collection error.
func MapTorrentDetails(res v1.Response, context string, id int64) (Torrent, error) {
	args, err := arguments(res, context)
	if err != nil {
		return Torrent{}, err
	}

	items, err := args.array("torrents")
	if err != nil {
		return Torrent{}, err
	}

	if len(items) == 0 {
		return Torrent{}, &Error{Kind: ErrEmptyCollection, Context: context, Field: "torrents"}
	}

	for i, item := range items {
		obj, err := args.element("torrents", i, item)
		if err != nil {
			return Torrent{}, err
		}

		candidate, err := obj.int("id")
		if err != nil {
			return Torrent{}, err
		}
		if candidate != id {
			continue
		}

		return torrent(obj, true)
	}

	return Torrent{}, &Error{Kind: ErrEmptyCollection, Context: context, Field: "torrents", Detail: fmt.Sprintf("torrent %d not returned", id)}
}

func torrent(obj fields, details bool) (Torrent, error) {
	var (
		t   Torrent
		err error
	)

	if t.ID, err = obj.int("id"); err != nil {
		return Torrent{}, err
	}
	if t.Name, err = obj.string("name"); err != nil {
		return Torrent{}, err
	}
	if t.HashString, err = obj.optString("hashString"); err != nil {
		return Torrent{}, err
	}

	status, err := obj.int("status")
	if err != nil {
		return Torrent{}, err
	}
	t.Status = Status(status)
	if !t.Status.valid() {
		return Torrent{}, obj.fail(ErrUnsupportedValue, "status", fmt.Sprintf("%d", status))
	}

	if t.PercentDone, err = obj.percent("percentDone", true, 0); err != nil {
		return Torrent{}, err
	}
	if t.MetadataPercentComplete, err = obj.percent("metadataPercentComplete", false, 1); err != nil {
		return Torrent{}, err
	}
	if t.RecheckProgress, err = obj.percent("recheckProgress", false, 0); err != nil {
		return Torrent{}, err
	}
	if t.UploadRatio, err = obj.optFloat("uploadRatio", 0); err != nil {
		return Torrent{}, err
	}

	if t.RateDownload, err = obj.int("rateDownload"); err != nil {
		return Torrent{}, err
	}
	if t.RateUpload, err = obj.int("rateUpload"); err != nil {
		return Torrent{}, err
	}

	for _, f := range []struct {
		name string
		dst  *int64
		def  int64
	}{
		{"totalSize", &t.TotalSize, 0},
		{"sizeWhenDone", &t.SizeWhenDone, 0},
		{"leftUntilDone", &t.LeftUntilDone, 0},
		{"uploadedEver", &t.UploadedEver, 0},
		{"downloadedEver", &t.DownloadedEver, 0},
		{"eta", &t.ETA, -1},
		{"queuePosition", &t.QueuePosition, 0},
		{"peersConnected", &t.PeersConnected, 0},
		{"peersSendingToUs", &t.PeersSendingToUs, 0},
		{"peersGettingFromUs", &t.PeersGettingFromUs, 0},
		{"error", &t.Error, 0},
	} {
		if *f.dst, err = obj.optInt(f.name, f.def); err != nil {
			return Torrent{}, err
		}
	}

	if t.ErrorString, err = obj.optString("errorString"); err != nil {
		return Torrent{}, err
	}
	if t.DownloadDir, err = obj.optString("downloadDir"); err != nil {
		return Torrent{}, err
	}
	if t.IsFinished, err = obj.optBool("isFinished"); err != nil {
		return Torrent{}, err
	}
	if t.AddedDate, err = obj.unixTime("addedDate"); err != nil {
		return Torrent{}, err
	}
	if t.DoneDate, err = obj.unixTime("doneDate"); err != nil {
		return Torrent{}, err
	}

	if t.PeerSources, err = peerSources(obj); err != nil {
		return Torrent{}, err
	}

	if details {
		if t.Details, err = torrentDetails(obj); err != nil {
			return Torrent{}, err
		}
	}

	return t, nil
}

// peerSources returns the non-zero peersFrom counts, largest first.
func peerSources(obj fields) ([]PeerSource, error) {
	from, ok, err := obj.optObject("peersFrom")
	if err != nil || !ok {
		return nil, err
	}

	sources := []PeerSource{}
	for key := range from.obj {
		count, err := from.optInt(key, 0)
		if err != nil {
			return nil, err
		}
		if count <= 0 {
			continue
		}

		name, ok := peerSourceNames[key]
		if !ok {
			name = key
		}

		sources = append(sources, PeerSource{Name: name, Count: count})
	}

	sort.Slice(sources, func(i, j int) bool {
		if sources[i].Count != sources[j].Count {
			return sources[i].Count > sources[j].Count
		}

		return sources[i].Name < sources[j].Name
	})

	return sources, nil
}

func torrentDetails(obj fields) (*TorrentDetails, error) {
	var (
		d   TorrentDetails
		err error
	)

	if d.Comment, err = obj.optString("comment"); err != nil {
		return nil, err
	}
	if d.Creator, err = obj.optString("creator"); err != nil {
		return nil, err
	}
	if d.DateCreated, err = obj.unixTime("dateCreated"); err != nil {
		return nil, err
	}
	if d.PieceCount, err = obj.optInt("pieceCount", 0); err != nil {
		return nil, err
	}
	if d.PieceSize, err = obj.optInt("pieceSize", 0); err != nil {
		return nil, err
	}

	files, err := obj.array("files")
	if err != nil {
		return nil, err
	}
	stats, err := obj.optArray("fileStats")
	if err != nil {
		return nil, err
	}
	if stats != nil && len(stats) != len(files) {
		return nil, obj.fail(ErrInvalidValue, "fileStats", fmt.Sprintf("%d entries for %d files", len(stats), len(files)))
	}

	d.Files = make([]File, 0, len(files))
	for i, item := range files {
		entry, err := obj.element("files", i, item)
		if err != nil {
			return nil, err
		}

		f := File{Wanted: true}
		if f.Name, err = entry.string("name"); err != nil {
			return nil, err
		}
		if f.Length, err = entry.int("length"); err != nil {
			return nil, err
		}
		if f.BytesCompleted, err = entry.optInt("bytesCompleted", 0); err != nil {
			return nil, err
		}

		if stats != nil {
			stat, err := obj.element("fileStats", i, stats[i])
			if err != nil {
				return nil, err
			}

			if _, ok := stat.lookup("wanted"); ok {
				if f.Wanted, err = stat.optBool("wanted"); err != nil {
					return nil, err
				}
			}
			if f.Priority, err = stat.optInt("priority", 0); err != nil {
				return nil, err
			}
		}

		if f.Length > 0 {
			f.Progress = float64(f.BytesCompleted) / float64(f.Length)
		}

		d.Files = append(d.Files, f)
	}

	if d.Trackers, err = trackers(obj); err != nil {
		return nil, err
	}

	return &d, nil
}

func trackers(obj fields) ([]Tracker, error) {
	items, err := obj.optArray("trackers")
	if err != nil {
		return nil, err
	}

	out := make([]Tracker, 0, len(items))
	byID := map[int64]int{}
	for i, item := range items {
		entry, err := obj.element("trackers", i, item)
		if err != nil {
			return nil, err
		}

		var t Tracker
		if t.ID, err = entry.int("id"); err != nil {
			return nil, err
		}
		if t.Announce, err = entry.string("announce"); err != nil {
			return nil, err
		}
		if t.Tier, err = entry.optInt("tier", 0); err != nil {
			return nil, err
		}

		byID[t.ID] = len(out)
		out = append(out, t)
	}

	stats, err := obj.optArray("trackerStats")
	if err != nil {
		return nil, err
	}

	for i, item := range stats {
		entry, err := obj.element("trackerStats", i, item)
		if err != nil {
			return nil, err
		}

		id, err := entry.int("id")
		if err != nil {
			return nil, err
		}

		idx, ok := byID[id]
		if !ok {
			continue
		}

		t := &out[idx]
		if t.Host, err = entry.optString("host"); err != nil {
			return nil, err
		}
		if t.LastAnnounceResult, err = entry.optString("lastAnnounceResult"); err != nil {
			return nil, err
		}
		if t.LastAnnounceSucceeded, err = entry.optBool("lastAnnounceSucceeded"); err != nil {
			return nil, err
		}
		if t.SeederCount, err = entry.optInt("seederCount", 0); err != nil {
			return nil, err
		}
		if t.LeecherCount, err = entry.optInt("leecherCount", 0); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// MapTorrentAdd maps torrent-add, which answers with either torrent-added or
// torrent-duplicate.
func MapTorrentAdd(res v1.Response, context string) (TorrentAddResult, error) {
	args, err := arguments(res, context)
	if err != nil {
		return TorrentAddResult{}, err
	}

	var (
		entry  fields
		status AddStatus
	)
	if added, ok, err := args.optObject("torrent-added"); err != nil {
		return TorrentAddResult{}, err
	} else if ok {
		entry, status = added, AddStatusAdded
	} else if duplicate, ok, err := args.optObject("torrent-duplicate"); err != nil {
		return TorrentAddResult{}, err
	} else if ok {
		entry, status = duplicate, AddStatusDuplicate
	} else {
		return TorrentAddResult{}, args.fail(ErrMissingField, "torrent-added", "")
	}

	r := TorrentAddResult{Status: status}
	if r.ID, err = entry.int("id"); err != nil {
		return TorrentAddResult{}, err
	}
	if r.Name, err = entry.string("name"); err != nil {
		return TorrentAddResult{}, err
	}
	if r.HashString, err = entry.string("hashString"); err != nil {
		return TorrentAddResult{}, err
	}

	return r, nil
}
