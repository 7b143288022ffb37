package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	reuseport "github.com/kavu/go_reuseport"
	"google.golang.org/grpc"

	"github.com/stackcube/stackcube/storage"
	"github.com/stackcube/stackcube/warprpc"
)

const maxRecvMsgSize = 100 * 1024 * 1024

type warpService struct {
	reader *storage.GridReader
}

func (s *warpService) ReadWindow(ctx context.Context, req *warprpc.WindowRequest) (*warprpc.Raster, error) {
	src, err := s.reader.ReadWindow(ctx, req.Url, int(req.Band), storage.Window{
		MinX: req.MinX,
		MinY: req.MinY,
		MaxX: req.MaxX,
		MaxY: req.MaxY,
	})
	if err != nil {
		return nil, err
	}
	return &warprpc.Raster{
		Data:       src.Data,
		RasterType: src.Type,
		NoData:     src.NoData,
		Width:      int32(src.Width),
		Height:     int32(src.Height),
		Geot:       src.Geot[:],
	}, nil
}

func main() {
	addr := flag.String("addr", ":6000", "listen address")
	retries := flag.Int("retries", 1, "per-read retry budget")
	verbose := flag.Bool("verbose", false, "verbose logging")
	flag.Parse()

	opts := []storage.GridOption{
		storage.WithRetries(*retries),
		storage.WithVerbose(*verbose),
		storage.WithFetcher("http", storage.NewHTTPFactory(nil)),
		storage.WithFetcher("https", storage.NewHTTPFactory(nil)),
	}
	s3Factory, err := storage.NewS3Factory(context.Background(), nil)
	if err != nil {
		log.Printf("s3 storage disabled: %v", err)
	} else {
		opts = append(opts, storage.WithFetcher("s3", s3Factory))
	}

	lis, err := reuseport.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", *addr, err)
	}

	srv := grpc.NewServer(grpc.MaxRecvMsgSize(maxRecvMsgSize), grpc.MaxSendMsgSize(maxRecvMsgSize))
	warprpc.RegisterWarpServer(srv, &warpService{reader: storage.NewGridReader(opts...)})

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		srv.GracefulStop()
	}()

	log.Printf("warp worker listening on %s", *addr)
	if err := srv.Serve(lis); err != nil {
		log.Fatalf("gRPC server error: %v", err)
	}
}
