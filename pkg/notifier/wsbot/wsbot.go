// Package wsbot implements the "websocket bot API" chat transport from
// spec.md §4.6: a reverse-websocket, OneBot-v11-style backend with
// forward-message (合并转发) grouping, base64 inline images, and
// reply-text "1"/"2" feedback, grounded on
// original_source/notifier/onebot.py.
package wsbot

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kzmtkz/xppusher/pkg/imaging"
	"github.com/kzmtkz/xppusher/pkg/notifier"
	"github.com/kzmtkz/xppusher/pkg/notifier/article"
	"github.com/kzmtkz/xppusher/pkg/platform"
	"github.com/kzmtkz/xppusher/pkg/xperrors"
)

// Config governs one reverse-websocket backend instance.
type Config struct {
	URL         string
	AccessToken string
	RecipientID int64 // private-message target user id
	AllowList   []int64
	BatchMode   bool
	MultiPage   bool
	MaxPages    int
	ImageMaxPx  int
	Quality     int
	ProxyURL    string // reverse-proxy base used as an image fallback, e.g. "https://i.pixiv.re"
	MessageMapCap int
}

// action is one OneBot v11 API call payload.
type action struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

// node is one 合并转发 forward-message node.
type node struct {
	Type string `json:"type"`
	Data struct {
		Name    string `json:"name"`
		UIN     string `json:"uin"`
		Content string `json:"content"`
	} `json:"data"`
}

// Backend is a Notifier implementation over a OneBot-v11-style
// reverse-websocket connection.
type Backend struct {
	cfg      Config
	platform platform.Client
	articles article.Publisher

	onReaction notifier.ReactionFunc
	onAdmin    notifier.AdminFunc

	messages *notifier.MessageMap

	connMu sync.Mutex
	conn   *websocket.Conn

	lastBatchMu sync.Mutex
	lastBatch   []int64

	closeOnce sync.Once
	cancel    context.CancelFunc
}

// New builds a Backend. The websocket connection is established lazily
// on the first Send/StartListening call.
func New(cfg Config, pc platform.Client, pub article.Publisher, onReaction notifier.ReactionFunc, onAdmin notifier.AdminFunc) *Backend {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 5
	}
	if cfg.Quality <= 0 {
		cfg.Quality = 90
	}
	if cfg.ImageMaxPx <= 0 {
		cfg.ImageMaxPx = 4096
	}
	return &Backend{
		cfg:        cfg,
		platform:   pc,
		articles:   pub,
		onReaction: onReaction,
		onAdmin:    onAdmin,
		messages:   notifier.NewMessageMap(cfg.MessageMapCap),
	}
}

var _ notifier.Notifier = (*Backend)(nil)

func (b *Backend) connect(ctx context.Context) (*websocket.Conn, error) {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	if b.conn != nil {
		return b.conn, nil
	}

	header := make(map[string][]string)
	if b.cfg.AccessToken != "" {
		header["Authorization"] = []string{"Bearer " + b.cfg.AccessToken}
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, b.cfg.URL, header)
	if err != nil {
		return nil, xperrors.NewTransientNetworkError("wsbot_connect", err)
	}
	b.conn = conn
	return conn, nil
}

func (b *Backend) send(conn *websocket.Conn, a action) error {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	return conn.WriteJSON(a)
}

// Send delivers works per spec.md §4.6. In batch mode, a gallery link is
// posted with a reply-text convention for bulk actions. Otherwise every
// work is combined into one forward-message (合并转发); on failure it
// falls back to sending each work as its own message.
func (b *Backend) Send(ctx context.Context, works []platform.Work) ([]int64, error) {
	if len(works) == 0 {
		return nil, nil
	}
	conn, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}

	if b.cfg.BatchMode {
		return b.sendBatch(ctx, conn, works)
	}
	return b.sendForward(ctx, conn, works)
}

func (b *Backend) sendBatch(ctx context.Context, conn *websocket.Conn, works []platform.Work) ([]int64, error) {
	url, err := b.articles.Publish(ctx, fmt.Sprintf("%d new works", len(works)), works)
	if err != nil {
		return nil, xperrors.NewDeliveryError("wsbot", 0, err)
	}

	ids := make([]int64, len(works))
	for i, w := range works {
		ids[i] = w.ID
	}
	b.lastBatchMu.Lock()
	b.lastBatch = ids
	b.lastBatchMu.Unlock()

	text := fmt.Sprintf("%d new works\n%s\n\n回复 batch 1=喜欢全部 batch 2=不喜欢全部", len(works), url)
	if err := b.sendMessage(conn, text); err != nil {
		return nil, xperrors.NewDeliveryError("wsbot", 0, err)
	}
	return ids, nil
}

func (b *Backend) sendForward(ctx context.Context, conn *websocket.Conn, works []platform.Work) ([]int64, error) {
	nodes := make([]node, 0, len(works))
	for _, w := range works {
		nodes = append(nodes, b.buildNode(ctx, w))
	}

	if err := b.send(conn, action{
		Action: "send_private_forward_msg",
		Params: map[string]any{"user_id": b.cfg.RecipientID, "messages": nodes},
	}); err != nil {
		slog.Error("wsbot: forward-message send failed, falling back to per-work sends", "error", err)
		return b.sendEach(conn, works)
	}

	ids := make([]int64, len(works))
	for i, w := range works {
		ids[i] = w.ID
	}
	return ids, nil
}

func (b *Backend) sendEach(conn *websocket.Conn, works []platform.Work) ([]int64, error) {
	var sent []int64
	for _, w := range works {
		n := b.buildNode(context.Background(), w)
		if err := b.sendMessage(conn, n.Data.Content); err != nil {
			slog.Error("wsbot: send failed", "work_id", w.ID, "error", err)
			continue
		}
		sent = append(sent, w.ID)
	}
	return sent, nil
}

func (b *Backend) sendMessage(conn *websocket.Conn, content string) error {
	return b.send(conn, action{
		Action: "send_private_msg",
		Params: map[string]any{"user_id": b.cfg.RecipientID, "message": content},
	})
}

// buildNode downloads and inlines a work's cover image (every page, up to
// the number of image URLs, when the work is presented as an album) as
// base64 CQ segments, falling back to the configured reverse-proxy URL on any
// failure, per spec.md §4.6.
func (b *Backend) buildNode(ctx context.Context, w platform.Work) node {
	var n node
	n.Type = "node"
	n.Data.Name = "xppusher"
	n.Data.UIN = "10000"
	n.Data.Content = fmt.Sprintf("%s\n%s", b.imageSegment(ctx, w), formatCaption(w))
	return n
}

func (b *Backend) imageSegment(ctx context.Context, w platform.Work) string {
	policy := notifier.MultiPagePolicy{AlbumMode: b.cfg.MultiPage, MaxPages: b.cfg.MaxPages}
	presentation := policy.Resolve(w.PageCount)

	n := 1
	if presentation == notifier.PresentAlbum {
		n = w.PageCount
	}

	var segs []string
	for i := 0; i < n && i < len(w.ImageURLs); i++ {
		segs = append(segs, b.imageSegmentOne(ctx, w, i))
	}
	if len(segs) == 0 {
		segs = append(segs, fmt.Sprintf("[CQ:image,file=%s]", fallbackProxyURL(b.cfg.ProxyURL, w.ID)))
	}
	return strings.Join(segs, "\n")
}

func (b *Backend) imageSegmentOne(ctx context.Context, w platform.Work, idx int) string {
	if b.platform == nil || idx >= len(w.ImageURLs) {
		return fmt.Sprintf("[CQ:image,file=%s]", fallbackProxyURL(b.cfg.ProxyURL, w.ID))
	}
	raw, err := b.platform.DownloadImage(ctx, w.ImageURLs[idx])
	if err != nil {
		return fmt.Sprintf("[CQ:image,file=%s]", fallbackProxyURL(b.cfg.ProxyURL, w.ID))
	}
	conditioned, err := imaging.Condition(raw, imaging.Config{MaxEdgePx: b.cfg.ImageMaxPx, MaxQuality: b.cfg.Quality})
	if err != nil {
		return fmt.Sprintf("[CQ:image,file=%s]", fallbackProxyURL(b.cfg.ProxyURL, w.ID))
	}
	encoded := base64.StdEncoding.EncodeToString(conditioned)
	return fmt.Sprintf("[CQ:image,file=base64://%s]", encoded)
}

func formatCaption(w platform.Work) string {
	tags := w.Tags
	if w.DisplayTags != nil {
		tags = w.DisplayTags
	}
	if len(tags) > 5 {
		tags = tags[:5]
	}
	tagLine := make([]string, len(tags))
	for i, t := range tags {
		tagLine[i] = "#" + t
	}
	var page string
	if w.PageCount > 1 {
		page = fmt.Sprintf(" (%dP)", w.PageCount)
	}
	var rating string
	if w.IsAdult {
		rating = "🔞 "
	}
	var match string
	if w.MatchScore != nil {
		match = fmt.Sprintf("🎯 match: %.0f%%\n", *w.MatchScore*100)
	}
	return fmt.Sprintf(
		"%s🎨 %s%s\n👤 %s\n❤️ %d\n%s🏷️ %s\n🔗 https://www.pixiv.net/artworks/%d\n\n💬 回复: %d 1=喜欢 2=不喜欢",
		rating, w.Title, page, w.AuthorName, w.BookmarkCount, match, strings.Join(tagLine, " "), w.ID, w.ID,
	)
}

func fallbackProxyURL(base string, id int64) string {
	if base == "" {
		base = "https://i.pixiv.re"
	}
	return fmt.Sprintf("%s/artworks/%d", strings.TrimSuffix(base, "/"), id)
}

// SendText delivers a free-form admin message. wsbot has no native
// button UI, so buttons are rendered as numbered text lines showing each
// button's label and payload. The listener does not act on a reply that
// names a menu number.
func (b *Backend) SendText(ctx context.Context, text string, buttons []notifier.Button) error {
	conn, err := b.connect(ctx)
	if err != nil {
		return err
	}
	if len(buttons) > 0 {
		var b2 strings.Builder
		b2.WriteString(text)
		b2.WriteString("\n")
		for i, btn := range buttons {
			fmt.Fprintf(&b2, "\n%d) %s [%s]", i+1, btn.Label, btn.Data)
		}
		text = b2.String()
	}
	if err := b.sendMessage(conn, text); err != nil {
		return xperrors.NewDeliveryError("wsbot", 0, err)
	}
	return nil
}

// StartListening reads OneBot v11 message events until ctx is canceled.
func (b *Backend) StartListening(ctx context.Context) error {
	conn, err := b.connect(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	go func() {
		<-ctx.Done()
		b.connMu.Lock()
		if b.conn != nil {
			_ = b.conn.Close()
		}
		b.connMu.Unlock()
	}()

	for {
		var payload map[string]any
		if err := conn.ReadJSON(&payload); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return xperrors.NewTransientNetworkError("wsbot_read", err)
		}
		b.handleEvent(ctx, payload)
	}
}

func (b *Backend) handleEvent(ctx context.Context, data map[string]any) {
	if data["post_type"] != "message" {
		return
	}
	senderID := senderUserID(data)
	if !notifier.IsAuthorized(b.cfg.AllowList, senderID) {
		return
	}

	raw, _ := data["raw_message"].(string)
	raw = strings.TrimSpace(raw)
	fields := strings.Fields(raw)
	if len(fields) != 2 {
		if strings.HasPrefix(raw, "/") {
			name, args := parseCommand(raw)
			if b.onAdmin != nil {
				b.onAdmin(ctx, notifier.AdminCommand{Name: name, Args: args, From: senderID})
			}
		}
		return
	}

	if fields[0] == "batch" {
		b.handleBatchReply(ctx, fields[1], senderID)
		return
	}

	workID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return
	}
	switch fields[1] {
	case "1":
		if b.onReaction != nil {
			b.onReaction(ctx, notifier.Reaction{Kind: notifier.ReactionLike, WorkID: workID, ChatUser: senderID})
		}
	case "2":
		if b.onReaction != nil {
			b.onReaction(ctx, notifier.Reaction{Kind: notifier.ReactionDislike, WorkID: workID, ChatUser: senderID})
		}
	}
}

func (b *Backend) handleBatchReply(ctx context.Context, code string, senderID int64) {
	b.lastBatchMu.Lock()
	ids := append([]int64(nil), b.lastBatch...)
	b.lastBatchMu.Unlock()

	var kind notifier.ReactionKind
	switch code {
	case "1":
		kind = notifier.ReactionLike
	case "2":
		kind = notifier.ReactionDislike
	default:
		return
	}
	for _, id := range ids {
		if b.onReaction != nil {
			b.onReaction(ctx, notifier.Reaction{Kind: kind, WorkID: id, ChatUser: senderID})
		}
	}
}

func senderUserID(data map[string]any) int64 {
	if sender, ok := data["sender"].(map[string]any); ok {
		if id, ok := sender["user_id"].(float64); ok {
			return int64(id)
		}
	}
	if id, ok := data["user_id"].(float64); ok {
		return int64(id)
	}
	return 0
}

func parseCommand(text string) (string, []string) {
	fields := strings.Fields(strings.TrimPrefix(text, "/"))
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

// Close stops the reader loop and closes the connection; idempotent.
func (b *Backend) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		b.connMu.Lock()
		if b.conn != nil {
			closeErr = b.conn.Close()
		}
		b.connMu.Unlock()
	})
	return closeErr
}
