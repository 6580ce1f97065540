// Package driver implements the browser side of a session on headless (or
// headful) Chrome over the DevTools protocol.
package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"

	"shortscap/internal/session"
)

// pageDownVK is the Windows virtual key code for Page Down, which Chrome
// expects alongside the DOM key name.
const pageDownVK = 34

// Options configure a Chrome instance.
type Options struct {
	Headless bool
	// ExecPath overrides the Chrome binary to launch.
	ExecPath string
}

// Chrome is a session.Driver backed by one Chrome tab.
type Chrome struct {
	ctx         context.Context
	cancelCtx   context.CancelFunc
	cancelAlloc context.CancelFunc
}

var _ session.Driver = (*Chrome)(nil)

// New launches Chrome. Cancelling parent tears the browser down; callers
// normally just call Quit.
func New(parent context.Context, opts Options) (*Chrome, error) {
	allocOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("lang", "pt-BR"),
		chromedp.WindowSize(1280, 720),
	}
	if opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", "new"))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, allocOpts...)
	ctx, cancelCtx := chromedp.NewContext(allocCtx)

	// Start the browser now so a broken setup fails before the cycle does.
	if err := chromedp.Run(ctx); err != nil {
		cancelCtx()
		cancelAlloc()
		return nil, fmt.Errorf("launching chrome: %w", err)
	}
	return &Chrome{ctx: ctx, cancelCtx: cancelCtx, cancelAlloc: cancelAlloc}, nil
}

func (c *Chrome) Open(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return chromedp.Run(c.ctx, chromedp.Navigate(url))
}

func (c *Chrome) WaitForElement(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()
	err := chromedp.Run(waitCtx, chromedp.WaitVisible(selector, queryOpt(selector)))
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", session.ErrTimedOut, selector)
	}
	return err
}

func (c *Chrome) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return chromedp.Run(c.ctx, chromedp.Click(selector, queryOpt(selector), chromedp.NodeVisible))
}

// SendAdvanceKey dispatches a Page Down key press, which moves the Shorts
// feed to the next item.
func (c *Chrome) SendAdvanceKey(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	down := input.DispatchKeyEvent(input.KeyRawDown).
		WithKey("PageDown").
		WithCode("PageDown").
		WithWindowsVirtualKeyCode(pageDownVK).
		WithNativeVirtualKeyCode(pageDownVK)
	up := input.DispatchKeyEvent(input.KeyUp).
		WithKey("PageDown").
		WithCode("PageDown").
		WithWindowsVirtualKeyCode(pageDownVK).
		WithNativeVirtualKeyCode(pageDownVK)
	return chromedp.Run(c.ctx, down, up)
}

func (c *Chrome) Eval(ctx context.Context, js string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := chromedp.Run(c.ctx, chromedp.Evaluate(js, &raw)); err != nil {
		return nil, err
	}
	return raw, nil
}

// Quit closes the browser and releases the allocator.
func (c *Chrome) Quit() error {
	err := chromedp.Cancel(c.ctx)
	c.cancelCtx()
	c.cancelAlloc()
	return err
}

// queryOpt picks the chromedp query mode for a selector: XPath for //-style
// selectors, CSS otherwise.
func queryOpt(selector string) chromedp.QueryOption {
	if strings.HasPrefix(selector, "//") {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}
