package storage

import (
	"context"
	"fmt"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/stackcube/stackcube/warprpc"
)

const maxRPCRecvMsgSize = 100 * 1024 * 1024

// RPCReader delegates window reads to a pool of warp worker nodes,
// round-robin over connections.
type RPCReader struct {
	conns   []*grpc.ClientConn
	clients []warprpc.WarpClient
	next    uint64
	reads   int64
}

func NewRPCReader(addresses []string) (*RPCReader, error) {
	if len(addresses) == 0 {
		return nil, fmt.Errorf("no worker node addresses given")
	}

	r := &RPCReader{}
	for _, addr := range addresses {
		conn, err := grpc.NewClient(addr,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxRPCRecvMsgSize)),
		)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("error connecting to worker node %s: %v", addr, err)
		}
		r.conns = append(r.conns, conn)
		r.clients = append(r.clients, warprpc.NewWarpClient(conn))
	}
	return r, nil
}

func (r *RPCReader) Reads() int64 {
	return atomic.LoadInt64(&r.reads)
}

// ReadWindow implements SourceReader.
func (r *RPCReader) ReadWindow(ctx context.Context, url string, band int, win Window) (*SourceRaster, error) {
	atomic.AddInt64(&r.reads, 1)

	client := r.clients[atomic.AddUint64(&r.next, 1)%uint64(len(r.clients))]
	res, err := client.ReadWindow(ctx, &warprpc.WindowRequest{
		Url:  url,
		Band: int32(band),
		MinX: win.MinX,
		MinY: win.MinY,
		MaxX: win.MaxX,
		MaxY: win.MaxY,
	})
	if err != nil {
		return nil, err
	}

	out := &SourceRaster{
		Data:   res.Data,
		Type:   res.RasterType,
		NoData: res.NoData,
		Width:  int(res.Width),
		Height: int(res.Height),
	}
	if len(res.Geot) == 6 {
		copy(out.Geot[:], res.Geot)
	}
	return out, nil
}

func (r *RPCReader) Close() {
	for _, conn := range r.conns {
		conn.Close()
	}
}
