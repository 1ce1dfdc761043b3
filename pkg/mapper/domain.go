package mapper

import "time"

type Status int

const (
	StatusStopped Status = iota
	StatusCheckWait
	StatusChecking
	StatusDownloadWait
	StatusDownloading
	StatusSeedWait
	StatusSeeding
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusCheckWait:
		return "check-wait"
	case StatusChecking:
		return "checking"
	case StatusDownloadWait:
		return "download-wait"
	case StatusDownloading:
		return "downloading"
	case StatusSeedWait:
		return "seed-wait"
	case StatusSeeding:
		return "seeding"
	default:
		return "unknown"
	}
}

func (s Status) valid() bool {
	return s >= StatusStopped && s <= StatusSeeding
}

// Torrent is a validated torrent-get entry. Progress fields are fractions in
// [0, 1].
type Torrent struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	HashString string `json:"hashString,omitempty"`
	Status     Status `json:"status"`

	PercentDone             float64 `json:"percentDone"`
	MetadataPercentComplete float64 `json:"metadataPercentComplete"`
	RecheckProgress         float64 `json:"recheckProgress"`
	UploadRatio             float64 `json:"uploadRatio"`

	RateDownload   int64 `json:"rateDownload"`
	RateUpload     int64 `json:"rateUpload"`
	TotalSize      int64 `json:"totalSize"`
	SizeWhenDone   int64 `json:"sizeWhenDone"`
	LeftUntilDone  int64 `json:"leftUntilDone"`
	UploadedEver   int64 `json:"uploadedEver"`
	DownloadedEver int64 `json:"downloadedEver"`
	ETA            int64 `json:"eta"`
	QueuePosition  int64 `json:"queuePosition"`

	PeersConnected     int64        `json:"peersConnected"`
	PeersSendingToUs   int64        `json:"peersSendingToUs"`
	PeersGettingFromUs int64        `json:"peersGettingFromUs"`
	PeerSources        []PeerSource `json:"peerSources,omitempty"`

	Error       int64     `json:"error"`
	ErrorString string    `json:"errorString,omitempty"`
	AddedDate   time.Time `json:"addedDate"`
	DoneDate    time.Time `json:"doneDate"`
	DownloadDir string    `json:"downloadDir,omitempty"`
	IsFinished  bool      `json:"isFinished"`

	Details *TorrentDetails `json:"details,omitempty"`
}

// PeerSource counts connected peers by discovery mechanism.
type PeerSource struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

type TorrentDetails struct {
	Comment     string    `json:"comment,omitempty"`
	Creator     string    `json:"creator,omitempty"`
	DateCreated time.Time `json:"dateCreated"`
	PieceCount  int64     `json:"pieceCount"`
	PieceSize   int64     `json:"pieceSize"`
	Files       []File    `json:"files"`
	Trackers    []Tracker `json:"trackers"`
}

type File struct {
	Name           string  `json:"name"`
	Length         int64   `json:"length"`
	BytesCompleted int64   `json:"bytesCompleted"`
	Progress       float64 `json:"progress"`
	Wanted         bool    `json:"wanted"`
	Priority       int64   `json:"priority"`
}

type Tracker struct {
	ID       int64  `json:"id"`
	Announce string `json:"announce"`
	Tier     int64  `json:"tier"`

	Host                  string `json:"host,omitempty"`
	LastAnnounceResult    string `json:"lastAnnounceResult,omitempty"`
	LastAnnounceSucceeded bool   `json:"lastAnnounceSucceeded"`
	SeederCount           int64  `json:"seederCount"`
	LeecherCount          int64  `json:"leecherCount"`
}

type SpeedLimit struct {
	KBps    int64 `json:"kbps"`
	Enabled bool  `json:"enabled"`
}

type QueueLimit struct {
	Size    int64 `json:"size"`
	Enabled bool  `json:"enabled"`
}

// SessionState is the daemon's session configuration plus optional storage
// and lifetime statistics gathered from separate calls.
type SessionState struct {
	Version     string `json:"version"`
	RPCVersion  int64  `json:"rpcVersion"`
	DownloadDir string `json:"downloadDir"`

	SpeedLimitDown  SpeedLimit `json:"speedLimitDown"`
	SpeedLimitUp    SpeedLimit `json:"speedLimitUp"`
	AltSpeedDown    int64      `json:"altSpeedDown"`
	AltSpeedUp      int64      `json:"altSpeedUp"`
	AltSpeedEnabled bool       `json:"altSpeedEnabled"`

	DownloadQueue QueueLimit `json:"downloadQueue"`
	SeedQueue     QueueLimit `json:"seedQueue"`

	Storage *Storage      `json:"storage,omitempty"`
	Stats   *SessionStats `json:"stats,omitempty"`
}

type Storage struct {
	Path       string `json:"path"`
	FreeBytes  int64  `json:"freeBytes"`
	TotalBytes int64  `json:"totalBytes"`
}

type SessionStats struct {
	ActiveTorrents int64         `json:"activeTorrents"`
	PausedTorrents int64         `json:"pausedTorrents"`
	TorrentCount   int64         `json:"torrentCount"`
	DownloadSpeed  int64         `json:"downloadSpeed"`
	UploadSpeed    int64         `json:"uploadSpeed"`
	Cumulative     TransferStats `json:"cumulative"`
	Current        TransferStats `json:"current"`
}

type TransferStats struct {
	UploadedBytes   int64 `json:"uploadedBytes"`
	DownloadedBytes int64 `json:"downloadedBytes"`
	FilesAdded      int64 `json:"filesAdded"`
	SessionCount    int64 `json:"sessionCount"`
	SecondsActive   int64 `json:"secondsActive"`
}

// HandshakeInfo is the version triple advertised by session-get.
type HandshakeInfo struct {
	RPCVersion        int64
	RPCVersionMinimum int64
	ServerVersion     string
}

type AddStatus string

const (
	AddStatusAdded     AddStatus = "added"
	AddStatusDuplicate AddStatus = "duplicate"
)

type TorrentAddResult struct {
	Status     AddStatus
	ID         int64
	Name       string
	HashString string
}
