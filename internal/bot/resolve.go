package bot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/airdancer/internal/store"
)

// errUnknownUser means a target could not be matched to anyone in the
// store or the workspace directory.
var errUnknownUser = errors.New("unknown user")

var (
	mentionPattern = regexp.MustCompile(`^<@([UW][A-Z0-9]+)(?:\|[^>]*)?>$`)
	userIDPattern  = regexp.MustCompile(`^[UW][A-Z0-9]{8,}$`)
)

// resolveUser turns a command argument into a stored user. It accepts
// Slack mentions (<@U123ABC456>), bare user IDs, and usernames with or
// without a leading @. Users found only in the workspace directory are
// added to the store on the way through.
func (b *Bot) resolveUser(ctx context.Context, token string) (*store.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errUnknownUser
	}

	if m := mentionPattern.FindStringSubmatch(token); m != nil {
		return b.userByID(ctx, m[1])
	}
	if userIDPattern.MatchString(token) {
		return b.userByID(ctx, token)
	}

	username := strings.TrimPrefix(token, "@")
	u, err := b.store.GetUserByUsername(ctx, username)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		return nil, err
	}

	// Not in the store yet; check the workspace directory.
	users, err := b.api.GetUsers()
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace users: %w", err)
	}
	for _, su := range users {
		if su.Deleted {
			continue
		}
		if strings.EqualFold(su.Name, username) {
			return b.addKnownUser(ctx, su.ID, su.Name)
		}
	}
	return nil, errUnknownUser
}

func (b *Bot) userByID(ctx context.Context, userID string) (*store.User, error) {
	u, err := b.store.GetUser(ctx, userID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		return nil, err
	}

	su, err := b.api.GetUserInfo(userID)
	if err != nil {
		return nil, errUnknownUser
	}
	return b.addKnownUser(ctx, su.ID, su.Name)
}
