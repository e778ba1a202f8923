package core

import "strconv"

type SessionID int64

func (id SessionID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

type UserID int64

func (id UserID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

type SessionState string

const (
	SessionIdle      SessionState = "idle"
	SessionJoining   SessionState = "joining"
	SessionConnected SessionState = "connected"
	SessionClosed    SessionState = "closed"
)

type MediaKind string

const (
	AudioKind MediaKind = "audio"
	VideoKind MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == AudioKind || k == VideoKind
}

type Environment string

const (
	DevelopmentEnv Environment = "development"
	ProductionEnv  Environment = "production"
)

func (e Environment) IsDevelopment() bool {
	return e == DevelopmentEnv
}
