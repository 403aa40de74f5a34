package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccp-pamplona/ccpbot/internal/auth"
	"github.com/ccp-pamplona/ccpbot/internal/core"
	"github.com/ccp-pamplona/ccpbot/internal/dispatch"
	"github.com/ccp-pamplona/ccpbot/internal/rag"
)

type fakeAPI struct {
	mu      sync.Mutex
	texts   []string
	actions int
}

func (f *fakeAPI) SendMessage(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, p.Text)
	return &models.Message{}, nil
}

func (f *fakeAPI) SendChatAction(context.Context, *bot.SendChatActionParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions++
	return true, nil
}

type fixedAnswerer string

func (a fixedAnswerer) Answer(context.Context, string) string { return string(a) }

func newTestBot(answer string, policy *auth.PolicyService, store core.VectorStore) (*Bot, *fakeAPI, *dispatch.Dispatcher) {
	d := dispatch.New(0)
	b := newBot(Config{
		Answerer:   fixedAnswerer(answer),
		Policy:     policy,
		Dispatcher: d,
		Store:      store,
		Greeting:   "¡Hola!",
	})
	api := &fakeAPI{}
	b.api = api
	return b, api, d
}

func textUpdate(userID int64, text string) *models.Update {
	return &models.Update{Message: &models.Message{
		Chat: models.Chat{ID: 100},
		From: &models.User{ID: userID},
		Text: text,
	}}
}

func TestTextMessageIsAnswered(t *testing.T) {
	b, api, d := newTestBot("La sede abre a las 8.", nil, nil)
	b.handleUpdate(context.Background(), nil, textUpdate(7, "¿A qué hora abren?"))
	require.NoError(t, d.Shutdown(context.Background()))

	assert.Equal(t, []string{"La sede abre a las 8."}, api.texts)
	assert.GreaterOrEqual(t, api.actions, 1)
}

func TestLongAnswerIsTruncated(t *testing.T) {
	b, api, d := newTestBot(strings.Repeat("ü", 5000), nil, nil)
	b.handleUpdate(context.Background(), nil, textUpdate(7, "hola"))
	require.NoError(t, d.Shutdown(context.Background()))

	require.Len(t, api.texts, 1)
	assert.Equal(t, 4096, utf8.RuneCountInString(api.texts[0]))
}

func TestCommandsReturnGreeting(t *testing.T) {
	for _, cmd := range []string{"/start", "/help", "/help@ccp_bot", "/otra"} {
		b, api, d := newTestBot("no", nil, nil)
		b.handleUpdate(context.Background(), nil, textUpdate(7, cmd))
		require.NoError(t, d.Shutdown(context.Background()))
		assert.Equal(t, []string{"¡Hola!"}, api.texts, cmd)
	}
}

func TestIgnoredUpdates(t *testing.T) {
	b, api, d := newTestBot("x", auth.NewPolicyService("", "1"), nil)
	b.handleUpdate(context.Background(), nil, &models.Update{})
	b.handleUpdate(context.Background(), nil, textUpdate(7, "   "))
	b.handleUpdate(context.Background(), nil, textUpdate(2, "hola"))
	require.NoError(t, d.Shutdown(context.Background()))
	assert.Empty(t, api.texts)
}

func TestStatusCommandForAdmins(t *testing.T) {
	store := rag.NewMemoryStore("ccp_docs")
	require.NoError(t, store.Upsert(context.Background(),
		[]core.Chunk{{ID: "ccp_0", Text: "a"}}, []core.Vector{{1}}))

	b, api, d := newTestBot("x", auth.NewPolicyService("9", ""), store)
	b.handleUpdate(context.Background(), nil, textUpdate(9, "/estado"))
	b.handleUpdate(context.Background(), nil, textUpdate(7, "/estado"))
	require.NoError(t, d.Shutdown(context.Background()))

	assert.Equal(t, []string{"Colección ccp_docs: 1 fragmentos.", "¡Hola!"}, api.texts)
}

type brokenStore struct {
	*rag.MemoryStore
}

func (brokenStore) Count(context.Context) (int, error) {
	return 0, errors.New("dial tcp 10.0.0.7:19530: connection refused")
}

func TestStatusCommandHidesStoreErrors(t *testing.T) {
	b, api, d := newTestBot("x", auth.NewPolicyService("9", ""), brokenStore{rag.NewMemoryStore("ccp_docs")})
	b.handleUpdate(context.Background(), nil, textUpdate(9, "/estado"))
	require.NoError(t, d.Shutdown(context.Background()))

	assert.Equal(t, []string{"Colección ccp_docs no disponible."}, api.texts)
}
