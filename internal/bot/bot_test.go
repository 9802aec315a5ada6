package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"moviebot/internal/clock"
	"moviebot/internal/detail"
	"moviebot/internal/feed"
	"moviebot/internal/link"
	"moviebot/internal/scheduler"
	"moviebot/internal/scrape"
	"moviebot/internal/scrape/mocks"
	"moviebot/internal/search"
	"moviebot/internal/telegram"
	"moviebot/internal/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	chatID  = int64(100)
	pageURL = "https://mirror.example/inception.html"
)

type outbound struct {
	kind      string
	chatID    int64
	text      string
	opts      telegram.SendOptions
	photos    []string
	messageID int
	markup    tgbotapi.InlineKeyboardMarkup
}

// fakeTG пишет все исходящие вызовы.
type fakeTG struct {
	mu       sync.Mutex
	out      []outbound
	nextID   int
	photoErr error
}

func (f *fakeTG) add(o outbound) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, o)
}

func (f *fakeTG) SendText(chatID int64, text string, opts telegram.SendOptions) int {
	f.mu.Lock()
	f.nextID++
	id := 1000 + f.nextID
	f.mu.Unlock()
	f.add(outbound{kind: "text", chatID: chatID, text: text, opts: opts, messageID: id})
	return id
}

func (f *fakeTG) SendPhoto(chatID int64, photoURL, caption string) error {
	f.add(outbound{kind: "photo", chatID: chatID, text: caption, photos: []string{photoURL}})
	return f.photoErr
}

func (f *fakeTG) SendAlbum(chatID int64, photoURLs []string, caption string) error {
	f.add(outbound{kind: "album", chatID: chatID, text: caption, photos: photoURLs})
	return f.photoErr
}

func (f *fakeTG) Delete(chatID int64, messageID int) {
	f.add(outbound{kind: "delete", chatID: chatID, messageID: messageID})
}

func (f *fakeTG) AnswerCallback(callbackID, text string) {
	f.add(outbound{kind: "answer", text: text})
}

func (f *fakeTG) EditKeyboard(chatID int64, messageID int, markup tgbotapi.InlineKeyboardMarkup) {
	f.add(outbound{kind: "edit", chatID: chatID, messageID: messageID, markup: markup})
}

func (f *fakeTG) calls() []outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]outbound(nil), f.out...)
}

func (f *fakeTG) kinds() []string {
	var ks []string
	for _, o := range f.calls() {
		ks = append(ks, o.kind)
	}
	return ks
}

func (f *fakeTG) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = nil
}

type fakeMirror struct{ url string }

func (m fakeMirror) BaseURL(context.Context) (string, error) { return m.url, nil }

type stubFeed struct {
	posts []feed.Post
	err   error
	query string
}

func (s *stubFeed) Search(_ context.Context, q string, limit int) ([]feed.Post, error) {
	s.query = q
	if len(s.posts) > limit {
		return s.posts[:limit], s.err
	}
	return s.posts, s.err
}

type env struct {
	d       *Dispatcher
	tg      *fakeTG
	scraper *mocks.Scraper
	clock   *clock.Manual
	sched   *scheduler.Scheduler
	store   *token.MemoryStore
}

type envOption func(*Deps, *Options, *detail.Options)

func newEnv(t *testing.T, options ...envOption) *env {
	t.Helper()
	log := zap.NewNop()
	c := clock.NewManual(time.Unix(1_700_000_000, 0))
	store := token.NewMemoryStore(c)
	sc := &mocks.Scraper{}
	tg := &fakeTG{}
	sched := scheduler.New(c, log)

	deps := Deps{Messenger: tg, Scheduler: sched, Clock: c}
	opts := Options{
		Username:           "test_bot",
		Denylist:           link.NewDenylist(link.DefaultDenylist),
		WarningDeleteAfter: 10 * time.Second,
	}
	detailOpts := detail.Options{}
	for _, o := range options {
		o(&deps, &opts, &detailOpts)
	}

	deps.Search = search.NewExecutor(fakeMirror{url: "https://mirror.example"}, sc, store,
		search.Options{TokenTTL: time.Hour, MaxResults: 10}, log)
	deps.Detail = detail.NewResolver(store, sc, nil, detailOpts, log)

	return &env{d: New(deps, opts, log), tg: tg, scraper: sc, clock: c, sched: sched, store: store}
}

func textUpdate(text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 1,
		Message: &tgbotapi.Message{
			MessageID: 5,
			Chat:      &tgbotapi.Chat{ID: chatID, Type: "group"},
			From:      &tgbotapi.User{ID: 7, FirstName: "Alice"},
			Text:      text,
		},
	}
}

func callbackUpdate(data string, kb *tgbotapi.InlineKeyboardMarkup) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 2,
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:   "cb-1",
			From: &tgbotapi.User{ID: 7, FirstName: "Alice"},
			Data: data,
			Message: &tgbotapi.Message{
				MessageID:   50,
				Chat:        &tgbotapi.Chat{ID: chatID},
				ReplyMarkup: kb,
			},
		},
	}
}

func inceptionSearch(sc *mocks.Scraper) {
	sc.On("Search", mock.Anything, "https://mirror.example", "Inception", 10).
		Return([]scrape.Result{{Title: "Inception (2010)", URL: pageURL}}, nil)
}

var inceptionDetail = scrape.Detail{
	Title:        "Inception (2010)",
	Poster:       "https://cdn.example/poster.jpg",
	Screenshot:   "https://cdn.example/shot.jpg",
	Size:         "2.1 GB",
	Language:     "English",
	Genre:        "Sci-Fi",
	DownloadLink: "https://files.example/get/1",
}

func TestSearchThenOpenResult(t *testing.T) {
	e := newEnv(t)
	inceptionSearch(e.scraper)
	e.scraper.On("FetchDetail", mock.Anything, pageURL).Return(inceptionDetail, nil)

	e.d.Handle(context.Background(), textUpdate("#movie Inception"))

	out := e.tg.calls()
	require.Len(t, out, 1)
	results := out[0]
	assert.Equal(t, chatID, results.chatID)
	assert.Equal(t, "🔍 Movie results for Inception", results.text)
	assert.Equal(t, 5, results.opts.ReplyTo)
	require.NotNil(t, results.opts.Keyboard)
	require.Len(t, results.opts.Keyboard.InlineKeyboard, 1)
	btn := results.opts.Keyboard.InlineKeyboard[0][0]
	assert.Equal(t, "Inception (2010)", btn.Text)
	require.NotNil(t, btn.CallbackData)

	e.tg.reset()
	e.d.Handle(context.Background(), callbackUpdate(*btn.CallbackData, results.opts.Keyboard))

	assert.Equal(t, []string{"answer", "album"}, e.tg.kinds())
	album := e.tg.calls()[1]
	assert.Equal(t, chatID, album.chatID)
	assert.Equal(t, []string{inceptionDetail.Poster, inceptionDetail.Screenshot}, album.photos)
	assert.Contains(t, album.text, `href="https://files.example/get/1"`)
}

func TestCallback_UnknownTokenIsExpired(t *testing.T) {
	e := newEnv(t)

	e.d.Handle(context.Background(), callbackUpdate(token.EncodeCallback("missing-token"), nil))

	assert.Equal(t, []string{"answer", "text"}, e.tg.kinds())
	assert.Equal(t, msgExpired, e.tg.calls()[1].text)
	e.scraper.AssertNotCalled(t, "FetchDetail", mock.Anything, mock.Anything)
}

func TestCallback_ExpiredAfterTTL(t *testing.T) {
	e := newEnv(t)
	inceptionSearch(e.scraper)
	e.d.Handle(context.Background(), textUpdate("#movie Inception"))
	data := *e.tg.calls()[0].opts.Keyboard.InlineKeyboard[0][0].CallbackData

	e.clock.Advance(time.Hour)
	e.tg.reset()
	e.d.Handle(context.Background(), callbackUpdate(data, nil))

	assert.Equal(t, msgExpired, e.tg.calls()[1].text)
	assert.Zero(t, e.store.Len())
	e.scraper.AssertNotCalled(t, "FetchDetail", mock.Anything, mock.Anything)
}

func TestCallback_SingleUseRelabelsButton(t *testing.T) {
	e := newEnv(t, func(_ *Deps, _ *Options, d *detail.Options) { d.SingleUse = true })
	inceptionSearch(e.scraper)
	e.scraper.On("FetchDetail", mock.Anything, pageURL).Return(inceptionDetail, nil).Once()

	e.d.Handle(context.Background(), textUpdate("#movie Inception"))
	kb := e.tg.calls()[0].opts.Keyboard
	data := *kb.InlineKeyboard[0][0].CallbackData

	e.tg.reset()
	e.d.Handle(context.Background(), callbackUpdate(data, kb))
	out := e.tg.calls()
	require.Equal(t, []string{"answer", "album", "edit"}, e.tg.kinds())
	edited := out[2].markup.InlineKeyboard[0][0]
	assert.Equal(t, "✅ Inception (2010)", edited.Text)
	assert.Equal(t, usedCallback, *edited.CallbackData)
	assert.Equal(t, 50, out[2].messageID)

	e.tg.reset()
	e.d.Handle(context.Background(), callbackUpdate(usedCallback, &out[2].markup))
	assert.Equal(t, []string{"answer"}, e.tg.kinds())
	assert.Equal(t, msgAlreadyOpen, e.tg.calls()[0].text)

	e.tg.reset()
	e.d.Handle(context.Background(), callbackUpdate(data, kb))
	assert.Equal(t, msgExpired, e.tg.calls()[1].text)
}

func TestCallback_PhotoFailureFallsBackToText(t *testing.T) {
	e := newEnv(t)
	e.tg.photoErr = errors.New("wrong file identifier")
	id := token.NewID("Inception (2010)", pageURL)
	require.NoError(t, e.store.Put(context.Background(), token.Record{ID: id, Title: "Inception (2010)", URL: pageURL}, time.Hour))
	d := inceptionDetail
	d.Screenshot = ""
	e.scraper.On("FetchDetail", mock.Anything, pageURL).Return(d, nil)

	e.d.Handle(context.Background(), callbackUpdate(token.EncodeCallback(id), nil))

	assert.Equal(t, []string{"answer", "photo", "text"}, e.tg.kinds())
	assert.Contains(t, e.tg.calls()[2].text, "<b>Size:</b> 2.1 GB")
}

func TestCallback_FetchErrors(t *testing.T) {
	tests := []struct {
		name   string
		detail scrape.Detail
		err    error
		want   string
	}{
		{"fetch failed", scrape.Detail{}, scrape.ErrBadStatus, msgFetchFailed},
		{"no download link", scrape.Detail{Title: "Inception"}, nil, msgNoLink},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			id := token.NewID("Inception (2010)", pageURL)
			require.NoError(t, e.store.Put(context.Background(), token.Record{ID: id, URL: pageURL}, time.Hour))
			e.scraper.On("FetchDetail", mock.Anything, pageURL).Return(tt.detail, tt.err)

			e.d.Handle(context.Background(), callbackUpdate(token.EncodeCallback(id), nil))
			assert.Equal(t, tt.want, e.tg.calls()[1].text)
		})
	}
}

func TestCallback_ForeignDataOnlyAnswered(t *testing.T) {
	e := newEnv(t)
	e.d.Handle(context.Background(), callbackUpdate("something-else", nil))
	assert.Equal(t, []string{"answer"}, e.tg.kinds())
	assert.Empty(t, e.tg.calls()[0].text)
}

func TestSearch_Errors(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		setup func(sc *mocks.Scraper)
		want  string
	}{
		{
			name:  "empty remainder prompts",
			text:  "#movie   ",
			setup: func(sc *mocks.Scraper) {},
			want:  msgPrompt,
		},
		{
			name: "no results is personalised",
			text: "#TV Nonexistent",
			setup: func(sc *mocks.Scraper) {
				sc.On("Search", mock.Anything, mock.Anything, "Nonexistent", 10).Return([]scrape.Result{}, nil)
			},
			want: "😕 Sorry <b>Alice</b>, no results found for <b>Nonexistent</b>. Check the spelling and try again.",
		},
		{
			name: "scrape failure is unavailable",
			text: "#series Dark",
			setup: func(sc *mocks.Scraper) {
				sc.On("Search", mock.Anything, mock.Anything, "Dark", 10).Return(nil, scrape.ErrBadStatus)
			},
			want: msgUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			tt.setup(e.scraper)

			e.d.Handle(context.Background(), textUpdate(tt.text))

			out := e.tg.calls()
			require.Len(t, out, 1)
			assert.Equal(t, tt.want, out[0].text)
			assert.Equal(t, chatID, out[0].chatID)
		})
	}
}

func TestSearch_EmptyQueryMakesNoHTTPCalls(t *testing.T) {
	e := newEnv(t)
	e.d.Handle(context.Background(), textUpdate("#movie"))
	assert.Equal(t, msgPrompt, e.tg.calls()[0].text)
	e.scraper.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSearch_Throttle(t *testing.T) {
	e := newEnv(t, func(_ *Deps, o *Options, _ *detail.Options) {
		o.SearchRatePerSec = 0.5
		o.SearchBurst = 1
	})
	inceptionSearch(e.scraper)

	e.d.Handle(context.Background(), textUpdate("#movie Inception"))
	e.d.Handle(context.Background(), textUpdate("#movie Inception"))
	out := e.tg.calls()
	require.Len(t, out, 2)
	assert.Equal(t, msgThrottled, out[1].text)

	e.clock.Advance(2 * time.Second)
	e.tg.reset()
	e.d.Handle(context.Background(), textUpdate("#movie Inception"))
	assert.Equal(t, "🔍 Movie results for Inception", e.tg.calls()[0].text)
	assert.Equal(t, 1, e.d.throttle.size())
}

func TestSearch_ResultsAutoDelete(t *testing.T) {
	e := newEnv(t, func(_ *Deps, o *Options, _ *detail.Options) { o.ResultsDeleteAfter = time.Minute })
	inceptionSearch(e.scraper)

	e.d.Handle(context.Background(), textUpdate("#movie Inception"))
	resultsID := e.tg.calls()[0].messageID
	assert.Equal(t, 1, e.sched.Pending())

	e.clock.Advance(time.Minute)
	last := e.tg.calls()[1]
	assert.Equal(t, "delete", last.kind)
	assert.Equal(t, resultsID, last.messageID)
}

func TestDenylist_WarnsDeletesAndExpires(t *testing.T) {
	for _, text := range []string{"look at https://example.com", "#movie https://example.com", "join t.me/spam", "/help www.x.org"} {
		t.Run(text, func(t *testing.T) {
			e := newEnv(t)
			e.d.Handle(context.Background(), textUpdate(text))

			out := e.tg.calls()
			require.Equal(t, []string{"text", "delete"}, e.tg.kinds())
			assert.Equal(t, `⚠️ <a href="tg://user?id=7">Alice</a>, links are not allowed here.`, out[0].text)
			assert.Equal(t, 5, out[1].messageID)

			e.clock.Advance(9 * time.Second)
			assert.Len(t, e.tg.calls(), 2)
			e.clock.Advance(time.Second)
			out = e.tg.calls()
			require.Len(t, out, 3)
			assert.Equal(t, "delete", out[2].kind)
			assert.Equal(t, out[0].messageID, out[2].messageID)

			e.scraper.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestHelpCommands(t *testing.T) {
	tests := []struct {
		text string
		help bool
	}{
		{"/help", true},
		{"/START", true},
		{"  /Help  ", true},
		{"/help@test_bot", true},
		{"/help@other_bot", false},
		{"/help me", false},
		{"/helpme", false},
		{"hello", false},
		{"#movies Inception", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			e := newEnv(t)
			e.d.Handle(context.Background(), textUpdate(tt.text))
			if !tt.help {
				assert.Empty(t, e.tg.calls())
				return
			}
			out := e.tg.calls()
			require.Len(t, out, 1)
			assert.Equal(t, msgHelpHeader, out[0].text)
		})
	}
}

func TestNewMembersWelcome(t *testing.T) {
	e := newEnv(t)
	upd := tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 9,
		Chat:      &tgbotapi.Chat{ID: chatID},
		NewChatMembers: []tgbotapi.User{
			{ID: 1, FirstName: "Bob"},
			{ID: 2, FirstName: "<Eve>"},
			{ID: 3, FirstName: "Helper", IsBot: true},
		},
	}}

	e.d.Handle(context.Background(), upd)

	out := e.tg.calls()
	require.Len(t, out, 2)
	assert.Equal(t, "👋 Welcome, <b>Bob</b>!\n\n"+msgHelpHeader, out[0].text)
	assert.Contains(t, out[1].text, "&lt;Eve&gt;")
}

func TestFind(t *testing.T) {
	posts := []feed.Post{
		{Title: "Inception Review", URL: "https://blog.example/1"},
		{Title: "Inception Ending", URL: "https://blog.example/2"},
		{Title: "Inception Cast", URL: "https://blog.example/3"},
		{Title: "Inception Trivia", URL: "https://blog.example/4"},
	}

	t.Run("lists posts", func(t *testing.T) {
		f := &stubFeed{posts: posts}
		e := newEnv(t, func(d *Deps, _ *Options, _ *detail.Options) { d.Feed = f })
		e.d.Handle(context.Background(), textUpdate("/find inception"))

		text := e.tg.calls()[0].text
		assert.Equal(t, "inception", f.query)
		assert.Contains(t, text, `<a href="https://blog.example/3">Inception Cast</a>`)
		assert.NotContains(t, text, "blog.example/4")
	})

	t.Run("nothing found", func(t *testing.T) {
		e := newEnv(t, func(d *Deps, _ *Options, _ *detail.Options) { d.Feed = &stubFeed{} })
		e.d.Handle(context.Background(), textUpdate("/find@test_bot zzz"))
		assert.Equal(t, "😕 Nothing found for <b>zzz</b>.", e.tg.calls()[0].text)
	})

	t.Run("feed down", func(t *testing.T) {
		e := newEnv(t, func(d *Deps, _ *Options, _ *detail.Options) { d.Feed = &stubFeed{err: feed.ErrBadStatus} })
		e.d.Handle(context.Background(), textUpdate("/find zzz"))
		assert.Equal(t, msgUnavailable, e.tg.calls()[0].text)
	})

	t.Run("disabled without feed", func(t *testing.T) {
		e := newEnv(t)
		e.d.Handle(context.Background(), textUpdate("/find inception"))
		assert.Empty(t, e.tg.calls())
	})
}

type panicSearcher struct{}

func (panicSearcher) Search(context.Context, token.Category, string) (search.Results, error) {
	panic("boom")
}

func TestHandle_RecoversFromPanic(t *testing.T) {
	e := newEnv(t)
	e.d.search = panicSearcher{}
	assert.NotPanics(t, func() {
		e.d.Handle(context.Background(), textUpdate("#movie Inception"))
	})
}

func TestHandle_IgnoresOtherUpdates(t *testing.T) {
	e := newEnv(t)
	e.d.Handle(context.Background(), tgbotapi.Update{UpdateID: 3})
	e.d.Handle(context.Background(), textUpdate(""))
	e.d.Handle(context.Background(), textUpdate("just chatting"))
	assert.Empty(t, e.tg.calls())
}

func TestParseTag(t *testing.T) {
	tests := []struct {
		text     string
		category token.Category
		query    string
		ok       bool
	}{
		{"#movie Inception", token.CategoryMovie, "Inception", true},
		{"#MOVIE   The Matrix ", token.CategoryMovie, "The Matrix", true},
		{"#tv Friends", token.CategoryTV, "Friends", true},
		{"#Series Dark", token.CategorySeries, "Dark", true},
		{"#movie", token.CategoryMovie, "", true},
		{"#movies Inception", "", "", false},
		{"#tvshow", "", "", false},
		{"movie Inception", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			category, query, ok := parseTag(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.category, category)
			assert.Equal(t, tt.query, query)
		})
	}
}
