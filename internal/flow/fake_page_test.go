package flow

import (
	"context"
	"errors"

	"github.com/dev-console/dev-console/internal/driver"
	"github.com/go-rod/rod/lib/input"
)

// fakePage is a hand-written double for pageDriver used to exercise the
// interpreter's control flow (skip_if, retry, once) without a real browser.
type fakePage struct {
	url          string
	visible      bool
	exists       bool
	navigateErr  error
	clickErr     error
	clickCalls   int
	failClickN   int // fail this many times before succeeding
	title        string
	text         string
	attr         string
}

func (f *fakePage) CurrentURL() (string, error) { return f.url, nil }
func (f *fakePage) Visible(ctx context.Context, loc driver.Locator) bool { return f.visible }
func (f *fakePage) Exists(ctx context.Context, loc driver.Locator) bool  { return f.exists }

func (f *fakePage) Navigate(ctx context.Context, url string) error {
	f.url = url
	return f.navigateErr
}
func (f *fakePage) WaitFor(ctx context.Context, loc driver.Locator) error { return nil }
func (f *fakePage) WaitForLoadState(ctx context.Context) error           { return nil }
func (f *fakePage) WaitForURL(ctx context.Context, substr string) error  { return nil }

func (f *fakePage) Click(ctx context.Context, loc driver.Locator) error {
	f.clickCalls++
	if f.clickCalls <= f.failClickN {
		return errors.New("not clickable yet")
	}
	return f.clickErr
}
func (f *fakePage) Fill(ctx context.Context, loc driver.Locator, value string) error { return nil }
func (f *fakePage) SelectOption(ctx context.Context, loc driver.Locator, value string) error {
	return nil
}
func (f *fakePage) PressKey(ctx context.Context, loc *driver.Locator, key input.Key) error {
	return nil
}
func (f *fakePage) UploadFile(ctx context.Context, loc driver.Locator, paths []string) error {
	return nil
}
func (f *fakePage) EnterFrame(ctx context.Context, loc driver.Locator) error { return nil }
func (f *fakePage) ExitFrame() error                                        { return nil }
func (f *fakePage) NewTab(ctx context.Context, name, url string) error      { return nil }
func (f *fakePage) SwitchTab(name string) error                             { return nil }
func (f *fakePage) Title(ctx context.Context) (string, error)               { return f.title, nil }
func (f *fakePage) Text(ctx context.Context, loc driver.Locator) (string, error) {
	return f.text, nil
}
func (f *fakePage) Attribute(ctx context.Context, loc driver.Locator, name string) (string, error) {
	return f.attr, nil
}
func (f *fakePage) Fetch(ctx context.Context, req driver.FetchRequest) (driver.FetchResult, error) {
	return driver.FetchResult{Status: 200, Body: "{}"}, nil
}
