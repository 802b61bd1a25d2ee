package upload

import (
	"context"
	"fmt"

	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/auth"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/portal"
)

type fakeAuth struct {
	session auth.Session
	err     error
	cookies []string
}

func (a *fakeAuth) Session(_ context.Context, cookie string) (auth.Session, error) {
	a.cookies = append(a.cookies, cookie)
	return a.session, a.err
}

type uploadedChunk struct {
	index int
	data  string
}

// fakePortal records every call. The fail* fields hold the errors returned
// by consecutive calls of an operation before it starts succeeding.
type fakePortal struct {
	assetID string

	failResolve  []error
	failStart    []error
	failChunk    map[int][]error
	failComplete []error

	calls     []string
	resolved  []string
	reuploads []portal.ReuploadRequest
	chunks    []uploadedChunk
	headers   []string
}

func (p *fakePortal) ResolveAssetID(_ context.Context, name, cookieHeader string) (string, error) {
	p.record(fmt.Sprintf("resolve %s", name), cookieHeader)
	p.resolved = append(p.resolved, name)
	if err := pop(&p.failResolve); err != nil {
		return "", err
	}
	return p.assetID, nil
}

func (p *fakePortal) StartReupload(_ context.Context, request portal.ReuploadRequest, cookieHeader string) error {
	p.record("start", cookieHeader)
	p.reuploads = append(p.reuploads, request)
	return pop(&p.failStart)
}

func (p *fakePortal) UploadChunk(_ context.Context, assetID string, index int, data []byte, cookieHeader string) error {
	p.record(fmt.Sprintf("chunk %s %d", assetID, index), cookieHeader)
	p.chunks = append(p.chunks, uploadedChunk{index: index, data: string(data)})
	if p.failChunk != nil {
		errs := p.failChunk[index]
		if err := pop(&errs); err != nil {
			p.failChunk[index] = errs
			return err
		}
	}
	return nil
}

func (p *fakePortal) CompleteUpload(_ context.Context, assetID, cookieHeader string) error {
	p.record(fmt.Sprintf("complete %s", assetID), cookieHeader)
	return pop(&p.failComplete)
}

func (p *fakePortal) record(call, cookieHeader string) {
	p.calls = append(p.calls, call)
	p.headers = append(p.headers, cookieHeader)
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

type fakePackager struct {
	archivePath string
	err         error

	workspacePath string
	assetName     string
	excludes      []string
	calls         int
}

func (p *fakePackager) CreateArchive(workspacePath, assetName string, excludes []string) (string, error) {
	p.calls++
	p.workspacePath = workspacePath
	p.assetName = assetName
	p.excludes = excludes
	return p.archivePath, p.err
}

type fakeArtifacts struct {
	localPath string
	err       error
	paths     []string
}

func (a *fakeArtifacts) LocalPath(_ context.Context, path string) (string, error) {
	a.paths = append(a.paths, path)
	if a.err != nil {
		return "", a.err
	}
	if a.localPath == "" {
		return path, nil
	}
	return a.localPath, nil
}
