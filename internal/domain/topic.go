package domain

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	topicPrefix = "game"
	publicRoom  = "public"
)

// Topic is the channel name clients subscribe to. It is part of the wire
// contract: "game:{gameId}:{code}" for private rooms and "game:{gameId}:public"
// for quick play.
func Topic(gameID, code string) string {
	if code == "" {
		code = publicRoom
	}
	return fmt.Sprintf("%s:%s:%s", topicPrefix, gameID, code)
}

// ParseTopic splits a topic into game id and room code. The code is empty for
// the quick-play pool.
func ParseTopic(topic string) (gameID, code string, err error) {
	parts := strings.Split(topic, ":")
	if len(parts) != 3 || parts[0] != topicPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("%w: topic %q", ErrInvalidInput, topic)
	}
	if parts[2] == publicRoom {
		return parts[1], "", nil
	}
	if !IsValidJoinCode(parts[2]) {
		return "", "", fmt.Errorf("%w: room code %q", ErrInvalidInput, parts[2])
	}
	return parts[1], parts[2], nil
}

// JoinLink builds the shareable link origin/game/{gameId}?room={code}.
func JoinLink(origin, gameID, code string) string {
	origin = strings.TrimRight(origin, "/")
	q := url.Values{}
	q.Set("room", code)
	return fmt.Sprintf("%s/game/%s?%s", origin, url.PathEscape(gameID), q.Encode())
}
