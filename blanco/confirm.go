package blanco

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

var (
	ErrConfirmationTimeout = errors.New("confirmation timed out")

	errComponentExpired  = errors.New("component expired")
	errComponentNotOwned = errors.New("component belongs to another user")
)

// componentCollector routes message component interactions (button clicks)
// to the command handler waiting on them. Components are matched by the
// interaction ID embedded in their custom ID, and only clicks from the
// user who invoked the original command are delivered.
type componentCollector struct {
	mu      sync.Mutex
	waiters map[string]*componentWaiter
}

type componentWaiter struct {
	userID string
	values chan string
}

func newComponentCollector() *componentCollector {
	return &componentCollector{waiters: map[string]*componentWaiter{}}
}

// register starts collecting components for the given interaction. The
// returned func stops collecting, and must be called.
func (c *componentCollector) register(interactionID string, userID string) (<-chan string, func()) {
	w := &componentWaiter{userID: userID, values: make(chan string, 1)}

	c.mu.Lock()
	c.waiters[interactionID] = w
	c.mu.Unlock()

	return w.values, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.waiters[interactionID] == w {
			delete(c.waiters, interactionID)
		}
	}
}

// dispatch delivers a component interaction to its waiter. It returns
// false when nothing is waiting for it, or when it came from a different
// user than the one being waited on.
func (c *componentCollector) dispatch(i *discordgo.InteractionCreate) bool {
	return c.deliver(i) == nil
}

// deliver is dispatch, reporting why a component wasn't delivered:
// errComponentExpired when nothing waits on it anymore, or
// errComponentNotOwned when another user is being waited on.
func (c *componentCollector) deliver(i *discordgo.InteractionCreate) error {
	if i.Type != discordgo.InteractionMessageComponent {
		return errComponentExpired
	}
	interactionID, value, ok := strings.Cut(i.MessageComponentData().CustomID, ":")
	if !ok {
		return errComponentExpired
	}

	c.mu.Lock()
	w, ok := c.waiters[interactionID]
	c.mu.Unlock()
	if !ok {
		return errComponentExpired
	}

	u := getDiscordUser(i)
	if u == nil || u.ID != w.userID {
		return errComponentNotOwned
	}

	select {
	case w.values <- value:
		return nil
	default:
		// already answered
		return errComponentExpired
	}
}

func (c *componentCollector) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// confirm replies to the handler's interaction with prompt and yes/no
// buttons, and waits up to timeout for the invoking user to click one.
// ErrConfirmationTimeout is returned when nobody answers in time.
func confirm(
	ctx context.Context,
	handler InteractionHandler,
	prompt *discordgo.MessageEmbed,
	timeout time.Duration,
) (bool, error) {
	values, stop := handler.CollectComponents()
	defer stop()

	msg := yesNoMessage(prompt, handler.GetInteraction().ID)
	if err := reply(ctx, handler, msg); err != nil {
		return false, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case value := <-values:
		return value == buttonValueYes, nil
	case <-timer.C:
		return false, ErrConfirmationTimeout
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
