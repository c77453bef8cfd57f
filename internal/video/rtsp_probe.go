package video

import (
	"context"
	"fmt"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
)

// StreamInfo summarizes what an RTSP server announces
type StreamInfo struct {
	VideoCodecs []string
	MediaCount  int
}

// RTSPProbe describes an RTSP stream before ffmpeg is pointed at it, so a dead
// camera fails fast instead of stalling an ffmpeg start.
type RTSPProbe struct {
	Timeout time.Duration
}

// NewRTSPProbe creates a probe with the given network timeout
func NewRTSPProbe(timeout time.Duration) *RTSPProbe {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RTSPProbe{Timeout: timeout}
}

// Probe sends DESCRIBE to rawURL and checks that at least one video media is
// offered. Failures wrap ErrSourceUnavailable.
func (p *RTSPProbe) Probe(ctx context.Context, rawURL string) (*StreamInfo, error) {
	u, err := base.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse URL: %v", ErrSourceUnavailable, err)
	}

	client := &gortsplib.Client{
		ReadTimeout:  p.Timeout,
		WriteTimeout: p.Timeout,
	}
	if err := client.Start(u.Scheme, u.Host); err != nil {
		return nil, fmt.Errorf("%w: failed to connect: %v", ErrSourceUnavailable, err)
	}

	type describeResult struct {
		desc *description.Session
		err  error
	}
	results := make(chan describeResult, 1)
	go func() {
		desc, _, err := client.Describe(u)
		results <- describeResult{desc: desc, err: err}
	}()

	var res describeResult
	select {
	case <-ctx.Done():
		client.Close()
		return nil, ctx.Err()
	case res = <-results:
		client.Close()
	}

	if res.err != nil {
		return nil, fmt.Errorf("%w: failed to describe stream: %v", ErrSourceUnavailable, res.err)
	}

	info := &StreamInfo{MediaCount: len(res.desc.Medias)}
	for _, media := range res.desc.Medias {
		if media.Type != description.MediaTypeVideo {
			continue
		}
		for _, forma := range media.Formats {
			info.VideoCodecs = append(info.VideoCodecs, forma.Codec())
		}
	}

	if len(info.VideoCodecs) == 0 {
		return info, fmt.Errorf("%w: no video media in %s", ErrSourceUnavailable, rawURL)
	}

	return info, nil
}
