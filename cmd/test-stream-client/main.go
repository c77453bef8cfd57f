package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syukriyansyah-ipb/object-detection/internal/web"
)

func main() {
	var (
		url     string
		count   int
		outDir  string
		country string
	)
	flag.StringVar(&url, "url", "ws://localhost:8000/ws/detect", "Detection stream URL")
	flag.IntVar(&count, "n", 0, "Number of updates to read (0 reads until interrupted)")
	flag.StringVar(&outDir, "out", "", "Directory to write received frames to")
	flag.StringVar(&country, "country", "", "Country code sent as X-Country-Code")
	flag.Parse()

	fmt.Println("=== Detection Stream Client ===")
	fmt.Printf("Connecting to %s\n", url)

	header := http.Header{}
	if country != "" {
		header.Set("X-Country-Code", country)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(url, header)
	if err != nil {
		if resp != nil {
			fmt.Fprintf(os.Stderr, "Handshake failed: status %d\n", resp.StatusCode)
		}
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()
	fmt.Println("✅ Connected")
	fmt.Println()

	if outDir != "" {
		if err := os.MkdirAll(outDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create output directory: %v\n", err)
			os.Exit(1)
		}
	}

	// Interrupt closes the connection, which ends the read loop
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
	}()

	var (
		received uint64
		skipped  uint64
		lastSeq  uint64
		started  = time.Now()
	)
	for count == 0 || received < uint64(count) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				fmt.Printf("❌ Read failed: %v\n", err)
			}
			break
		}

		var msg web.FrameMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			fmt.Printf("❌ Invalid message: %v\n", err)
			continue
		}
		received++

		// Latest-wins delivery drops updates for slow viewers
		if lastSeq != 0 && msg.Seq > lastSeq+1 {
			skipped += msg.Seq - lastSeq - 1
		}
		if msg.Seq <= lastSeq {
			fmt.Printf("❌ Out of order update: seq %d after %d\n", msg.Seq, lastSeq)
		}
		lastSeq = msg.Seq

		status := "annotated"
		switch {
		case msg.DetectorFailed:
			status = "detector failed"
		case !msg.Annotated:
			status = "raw"
		}
		fmt.Printf("[Seq %d] frame %d, %s, %d bytes, %s\n",
			msg.Seq, msg.FrameSeq, status, base64.StdEncoding.DecodedLen(len(msg.Frame)), formatCounts(msg.Counts))

		if outDir != "" {
			image, err := base64.StdEncoding.DecodeString(msg.Frame)
			if err != nil {
				fmt.Printf("    ❌ Invalid frame data: %v\n", err)
				continue
			}
			path := filepath.Join(outDir, fmt.Sprintf("seq_%06d.jpg", msg.Seq))
			if err := os.WriteFile(path, image, 0644); err != nil {
				fmt.Printf("    ❌ Failed to write %s: %v\n", path, err)
			}
		}
	}

	elapsed := time.Since(started)
	fmt.Println()
	fmt.Printf("Received %d updates in %s (%.1f/s), %d skipped\n",
		received, elapsed.Round(time.Millisecond), float64(received)/elapsed.Seconds(), skipped)
}

func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "no detections"
	}
	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	parts := make([]string, 0, len(labels))
	for _, label := range labels {
		parts = append(parts, fmt.Sprintf("%s=%d", label, counts[label]))
	}
	return strings.Join(parts, " ")
}
