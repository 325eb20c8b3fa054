package probe

import (
	"context"
	"testing"

	"github.com/metal-toolbox/ipuctl/internal/model"
	"github.com/metal-toolbox/ipuctl/internal/redfish"
	"github.com/metal-toolbox/ipuctl/internal/remote"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	resources map[string]map[string]any
	err       error
}

func (f *fakeAPI) Get(_ context.Context, path string) (map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}

	resource, ok := f.resources[path]
	if !ok {
		return nil, &redfish.Error{StatusCode: 404, Detail: path}
	}

	return resource, nil
}

func (f *fakeAPI) Post(_ context.Context, _ string, _ any) error  { return f.err }
func (f *fakeAPI) Patch(_ context.Context, _ string, _ any) error { return f.err }

type fakeConsole struct {
	files map[string]string
	err   error
}

func (f *fakeConsole) Run(_ context.Context, _ string) (remote.Result, error) {
	return remote.Result{}, nil
}

func (f *fakeConsole) ReadFile(_ context.Context, path string) ([]byte, error) {
	contents, ok := f.files[path]
	if !ok {
		return nil, errors.New("no such file")
	}

	return []byte(contents), nil
}

func (f *fakeConsole) WriteFile(_ context.Context, _ string, _ []byte) error { return nil }
func (f *fakeConsole) Close() error                                          { return nil }

func dialerFor(console *fakeConsole) remote.Dialer {
	return func(_ context.Context, _ model.Endpoint) (remote.Host, error) {
		if console.err != nil {
			return nil, console.err
		}

		return console, nil
	}
}

func reachableAPI() *fakeAPI {
	return &fakeAPI{resources: map[string]map[string]any{
		redfish.SystemPath:      {},
		redfish.ServiceRootPath: {"Name": "Intel IPU E2100"},
		redfish.ManagerPath:     {"FirmwareVersion": "MEV-HW-B1-ci.ts.release.2.0.0.9418"},
	}}
}

func unreachableAPI() *fakeAPI {
	return &fakeAPI{err: &redfish.Error{Detail: "connection refused"}}
}

func TestVersionPrefersRedfish(t *testing.T) {
	console := &fakeConsole{files: map[string]string{
		bannerPath: "Intel IPU IMC Version: 1.8.0\n",
	}}

	p := New(reachableAPI(), dialerFor(console), model.Endpoint{})

	version, err := p.Version(context.Background())
	require.NoError(t, err)

	// redfish answered, the console banner must not win
	assert.Equal(t, "2.0.0", version)
}

func TestVersionFallsBackToConsole(t *testing.T) {
	console := &fakeConsole{files: map[string]string{
		bannerPath: "Intel IPU IMC Version: 1.8.0\n",
	}}

	p := New(unreachableAPI(), dialerFor(console), model.Endpoint{})

	version, err := p.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.8.0", version)
}

func TestVersionFailsWhenBothChannelsFail(t *testing.T) {
	console := &fakeConsole{err: errors.New("dial timeout")}

	p := New(unreachableAPI(), dialerFor(console), model.Endpoint{})

	_, err := p.Version(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrVersionUnavailable))
}

func TestVersionRejectsUnparsableFirmwareString(t *testing.T) {
	api := reachableAPI()
	api.resources[redfish.ManagerPath] = map[string]any{"FirmwareVersion": "1.2.3"}

	p := New(api, dialerFor(&fakeConsole{}), model.Endpoint{})

	_, err := p.Version(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrVersionUnavailable))
}

func TestIsIPUByServiceRootName(t *testing.T) {
	p := New(reachableAPI(), dialerFor(&fakeConsole{}), model.Endpoint{})
	assert.True(t, p.IsIPU(context.Background()))

	api := reachableAPI()
	api.resources[redfish.ServiceRootPath] = map[string]any{"Name": "Generic Server BMC"}

	p = New(api, dialerFor(&fakeConsole{}), model.Endpoint{})
	assert.False(t, p.IsIPU(context.Background()))
}

func TestIsIPUByConsoleFallback(t *testing.T) {
	console := &fakeConsole{files: map[string]string{
		bannerPath: "Intel IPU IMC Version: 1.8.0\n",
	}}

	p := New(unreachableAPI(), dialerFor(console), model.Endpoint{})
	assert.True(t, p.IsIPU(context.Background()))

	p = New(unreachableAPI(), dialerFor(&fakeConsole{err: errors.New("dial timeout")}), model.Endpoint{})
	assert.False(t, p.IsIPU(context.Background()))
}

func TestReachable(t *testing.T) {
	p := New(reachableAPI(), dialerFor(&fakeConsole{}), model.Endpoint{})
	assert.True(t, p.Reachable(context.Background()))

	p = New(unreachableAPI(), dialerFor(&fakeConsole{}), model.Endpoint{})
	assert.False(t, p.Reachable(context.Background()))
}
