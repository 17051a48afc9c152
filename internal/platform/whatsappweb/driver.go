package whatsappweb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

const (
	WebURL = "https://web.whatsapp.com"

	clearTimeout = 5 * time.Second
)

// Selectors used against the WhatsApp Web DOM. Each entry lists the
// test-id form first and a structural fallback second.
var selectors = struct {
	ChatList     string
	ChatItem     string
	UnreadBadge  string
	SearchBox    string
	MessageInput string
}{
	ChatList:     "div[data-testid='chat-list'], #side div[role='grid']",
	ChatItem:     "div[data-testid='cell-frame-container'], div[role='listitem']",
	UnreadBadge:  "span[data-testid='icon-unread-count'], span[aria-label*='unread']",
	SearchBox:    "div[contenteditable='true'][data-tab='3']",
	MessageInput: "div[contenteditable='true'][data-tab='10'], div[data-testid='conversation-compose-box-input']",
}

// candidateChatsJS returns the indexes of chat rows with an unread badge,
// or the first five rows when none has one.
const candidateChatsJS = `(itemSel, badgeSel) => {
	const rows = Array.from(document.querySelectorAll(itemSel));
	const unread = [];
	rows.forEach((row, i) => { if (row.querySelector(badgeSel)) unread.push(i); });
	if (unread.length) return unread;
	return rows.slice(0, 5).map((_, i) => i);
}`

const openChatJS = `(itemSel, i) => {
	const row = document.querySelectorAll(itemSel)[i];
	if (!row) return false;
	row.dispatchEvent(new MouseEvent('mousedown', {bubbles: true}));
	row.click();
	return true;
}`

// scrapeOpenChatJS reads the last ten bubbles of the open conversation.
const scrapeOpenChatJS = `(selfLabels) => {
	const header = document.querySelector("header[data-testid='conversation-header'], #main header");
	if (!header) return [];
	const titleEl = header.querySelector('span[title]') || header.querySelector('span[dir="auto"]');
	const chat = titleEl ? (titleEl.getAttribute('title') || titleEl.innerText || '').trim() : '';
	const subtitle = header.querySelector("span[data-testid='chat-subtitle'], div[class*='chat-subtitle']");
	const group = !!subtitle && /,|participant|\d/.test(subtitle.innerText || '');
	const rows = Array.from(document.querySelectorAll("#main div[data-id], div[data-testid='msg-container']")).slice(-10);
	return rows.map(row => {
		const textEl = row.querySelector("span[data-testid='msg-text'], span.selectable-text");
		const authorEl = row.querySelector("span[data-testid='msg-meta-sender'], span[data-testid='author']");
		const pre = row.querySelector('[data-pre-plain-text]');
		let sender = authorEl ? authorEl.innerText.trim() : '';
		if (!sender && pre) {
			const m = (pre.getAttribute('data-pre-plain-text') || '').match(/\]\s*([^:]+):/);
			if (m) sender = m[1].trim();
		}
		const quoted = row.querySelector("div[data-testid='quoted-msg'], div[aria-label*='Quoted']");
		let quotedText = '', quotedFromMe = false;
		if (quoted) {
			quotedText = (quoted.innerText || '').trim().slice(0, 200);
			const qa = quoted.querySelector('span[dir="auto"]');
			quotedFromMe = !!qa && selfLabels.includes(qa.innerText.trim());
		}
		const id = row.getAttribute('data-id') || '';
		return {
			id: id,
			chat: chat,
			group: group,
			sender: sender,
			text: textEl ? textEl.innerText : '',
			outgoing: id.startsWith('true_') || !!row.closest('.message-out'),
			quotedText: quotedText,
			quotedFromMe: quotedFromMe,
		};
	});
}`

var defaultSelfLabels = []string{"You", "Tú", "Você"}

type RodOptions struct {
	// DebuggerURL attaches to a running browser instead of launching one.
	DebuggerURL string
	UserDataDir string
	Headless    bool
	// Settle is the pause after opening a chat before it is scraped.
	Settle time.Duration
}

// pageLock serializes access to the shared tab. Unlike a mutex, waiting
// for it ends with the caller's context.
type pageLock chan struct{}

func newPageLock() pageLock { return make(pageLock, 1) }

func (l pageLock) acquire(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l pageLock) release() { <-l }

// RodDriver drives one WhatsApp Web tab. Polling and sending share the
// tab, so the lock is taken per chat rather than per scan.
type RodDriver struct {
	lock     pageLock
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
	settle   time.Duration
	logger   *zap.Logger
}

// Launch connects to (or starts) a browser and opens WhatsApp Web. The
// account must already be linked in the profile directory.
func Launch(ctx context.Context, opts RodOptions, logger *zap.Logger) (*RodDriver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Settle <= 0 {
		opts.Settle = 2 * time.Second
	}

	d := &RodDriver{lock: newPageLock(), settle: opts.Settle, logger: logger}
	controlURL := opts.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Headless(opts.Headless)
		if opts.UserDataDir != "" {
			l = l.UserDataDir(opts.UserDataDir)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		d.launcher = l
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		d.kill()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	d.browser = browser

	page, err := browser.Page(proto.TargetCreateTarget{URL: WebURL})
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("open whatsapp web: %w", err)
	}
	d.page = page
	if err := page.WaitLoad(); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("load whatsapp web: %w", err)
	}
	if _, err := page.Timeout(2 * time.Minute).Element(selectors.ChatList); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("whatsapp web not linked: %w", err)
	}
	logger.Info("whatsapp web ready", zap.String("control_url", controlURL))
	return d, nil
}

func (d *RodDriver) Unread(ctx context.Context) ([]Scraped, error) {
	var idx []int
	err := d.withPage(ctx, func(page *rod.Page) error {
		return evalInto(page, &idx, candidateChatsJS, selectors.ChatItem, selectors.UnreadBadge)
	})
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	var out []Scraped
	for _, i := range idx {
		batch, err := d.scrapeChat(ctx, i)
		if err != nil {
			return out, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

// scrapeChat opens the chat row at index i and reads its last bubbles.
// A chat that cannot be read is logged and skipped.
func (d *RodDriver) scrapeChat(ctx context.Context, i int) ([]Scraped, error) {
	var batch []Scraped
	err := d.withPage(ctx, func(page *rod.Page) error {
		var opened bool
		if err := evalInto(page, &opened, openChatJS, selectors.ChatItem, i); err != nil {
			return fmt.Errorf("open chat %d: %w", i, err)
		}
		if !opened {
			return nil
		}
		if err := sleep(ctx, d.settle); err != nil {
			return err
		}
		if err := evalInto(page, &batch, scrapeOpenChatJS, defaultSelfLabels); err != nil {
			d.logger.Debug("scrape chat failed", zap.Int("index", i), zap.Error(err))
			batch = nil
		}
		return nil
	})
	return batch, err
}

// Send opens chatName through the search box and types text into the
// compose box.
func (d *RodDriver) Send(ctx context.Context, chatName, text string) error {
	return d.withPage(ctx, func(page *rod.Page) error {
		search, err := page.Element(selectors.SearchBox)
		if err != nil {
			return fmt.Errorf("search box: %w", err)
		}
		if err := search.Input(chatName); err != nil {
			return fmt.Errorf("search %q: %w", chatName, err)
		}
		// The chat list stays filtered until the search is cleared, even
		// when ctx has already ended.
		defer func() {
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clearTimeout)
			defer cancel()
			if err := clearInput(search.Context(cctx)); err != nil {
				d.logger.Debug("clear search box failed", zap.Error(err))
			}
		}()
		if err := sleep(ctx, d.settle); err != nil {
			return err
		}
		var opened bool
		if err := evalInto(page, &opened, openChatJS, selectors.ChatItem, 0); err != nil {
			return fmt.Errorf("open chat %q: %w", chatName, err)
		}
		if !opened {
			return fmt.Errorf("chat %q not found", chatName)
		}
		if err := sleep(ctx, d.settle); err != nil {
			return err
		}

		box, err := page.Element(selectors.MessageInput)
		if err != nil {
			return fmt.Errorf("compose box: %w", err)
		}
		if err := box.Input(text); err != nil {
			return fmt.Errorf("type message: %w", err)
		}
		return box.Type(input.Enter)
	})
}

// withPage runs fn with exclusive use of the tab, bound to ctx.
func (d *RodDriver) withPage(ctx context.Context, fn func(*rod.Page) error) error {
	if err := d.lock.acquire(ctx); err != nil {
		return err
	}
	defer d.lock.release()
	return fn(d.page.Context(ctx))
}

func clearInput(el *rod.Element) error {
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input("")
}

// Close releases the tab. A browser started by Launch is shut down; an
// attached one keeps running.
func (d *RodDriver) Close() error {
	if d.launcher == nil {
		if d.page != nil {
			return d.page.Close()
		}
		return nil
	}
	var err error
	if d.browser != nil {
		err = d.browser.Close()
	}
	d.kill()
	return err
}

func (d *RodDriver) kill() {
	if d.launcher != nil {
		d.launcher.Kill()
	}
}

func evalInto(page *rod.Page, out any, js string, args ...any) error {
	res, err := page.Evaluate(rod.Eval(js, args...).ByPromise())
	if err != nil {
		return err
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
