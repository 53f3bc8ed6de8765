package service

import (
	"context"
	"strconv"

	slurmErrors "slurm-service/internal/errors"

	"github.com/go-kratos/kratos/v2/transport/http"
)

// HTTP 操作名，供中间件识别
const (
	OperationCreateAllocation = "/slurm.v1.AllocationService/CreateAllocation"
	OperationGetAllocation    = "/slurm.v1.AllocationService/GetAllocation"
	OperationDeleteAllocation = "/slurm.v1.AllocationService/DeleteAllocation"
	OperationCancelAllocation = "/slurm.v1.AllocationService/CancelAllocation"
	OperationPullAllocation   = "/slurm.v1.AllocationService/PullAllocation"
	OperationAddUser          = "/slurm.v1.AllocationService/AddUser"
	OperationDeleteUser       = "/slurm.v1.AllocationService/DeleteUser"
	OperationListUsages       = "/slurm.v1.AllocationService/ListUsages"
	OperationSync             = "/slurm.v1.SyncService/Sync"
	OperationSyncUsage        = "/slurm.v1.SyncService/SyncUsage"
)

// RegisterHTTPServer 注册分配与同步的 HTTP 路由
func RegisterHTTPServer(s *http.Server, allocations *AllocationService, sync *SyncService) {
	r := s.Route("/")
	r.POST("/v1/allocations", createAllocationHandler(allocations))
	r.GET("/v1/allocations/{id}", getAllocationHandler(allocations))
	r.DELETE("/v1/allocations/{id}", deleteAllocationHandler(allocations))
	r.POST("/v1/allocations/{id}/cancel", idHandler(OperationCancelAllocation, allocations.CancelAllocation))
	r.POST("/v1/allocations/{id}/pull", idHandler(OperationPullAllocation, allocations.PullAllocation))
	r.POST("/v1/allocations/{id}/users", addUserHandler(allocations))
	r.DELETE("/v1/allocations/{id}/users/{username}", deleteUserHandler(allocations))
	r.GET("/v1/allocations/{id}/usages", listUsagesHandler(allocations))
	r.POST("/v1/sync", syncHandler(sync))
	r.POST("/v1/usage/sync", syncUsageHandler(sync))
}

func createAllocationHandler(srv *AllocationService) http.HandlerFunc {
	return func(ctx http.Context) error {
		var in CreateAllocationRequest
		if err := ctx.Bind(&in); err != nil {
			return slurmErrors.ErrInvalidArgument("invalid body: %v", err)
		}
		http.SetOperation(ctx, OperationCreateAllocation)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.CreateAllocation(ctx, req.(*CreateAllocationRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func getAllocationHandler(srv *AllocationService) http.HandlerFunc {
	return idHandler(OperationGetAllocation, srv.GetAllocation)
}

// idHandler 只依赖路径参数 id 的操作
func idHandler(operation string, call func(context.Context, string) (*AllocationReply, error)) http.HandlerFunc {
	return func(ctx http.Context) error {
		id := ctx.Vars().Get("id")
		http.SetOperation(ctx, operation)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(ctx, req.(string))
		})
		out, err := h(ctx, id)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func deleteAllocationHandler(srv *AllocationService) http.HandlerFunc {
	return func(ctx http.Context) error {
		id := ctx.Vars().Get("id")
		http.SetOperation(ctx, OperationDeleteAllocation)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, srv.DeleteAllocation(ctx, req.(string))
		})
		if _, err := h(ctx, id); err != nil {
			return err
		}
		return ctx.Result(200, map[string]bool{"success": true})
	}
}

func addUserHandler(srv *AllocationService) http.HandlerFunc {
	return func(ctx http.Context) error {
		var in UserRequest
		if err := ctx.Bind(&in); err != nil {
			return slurmErrors.ErrInvalidArgument("invalid body: %v", err)
		}
		in.AllocationID = ctx.Vars().Get("id")
		http.SetOperation(ctx, OperationAddUser)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.AddUser(ctx, req.(*UserRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func deleteUserHandler(srv *AllocationService) http.HandlerFunc {
	return func(ctx http.Context) error {
		in := UserRequest{
			AllocationID: ctx.Vars().Get("id"),
			Username:     ctx.Vars().Get("username"),
		}
		http.SetOperation(ctx, OperationDeleteUser)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.DeleteUser(ctx, req.(*UserRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

type listUsagesRequest struct {
	id    string
	year  int
	month int
}

func listUsagesHandler(srv *AllocationService) http.HandlerFunc {
	return func(ctx http.Context) error {
		in := listUsagesRequest{id: ctx.Vars().Get("id")}
		var err error
		if v := ctx.Query().Get("year"); v != "" {
			if in.year, err = strconv.Atoi(v); err != nil {
				return slurmErrors.ErrInvalidArgument("invalid year %q", v)
			}
		}
		if v := ctx.Query().Get("month"); v != "" {
			if in.month, err = strconv.Atoi(v); err != nil {
				return slurmErrors.ErrInvalidArgument("invalid month %q", v)
			}
		}
		http.SetOperation(ctx, OperationListUsages)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*listUsagesRequest)
			return srv.ListUsages(ctx, r.id, r.year, r.month)
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func syncHandler(srv *SyncService) http.HandlerFunc {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, OperationSync)
		h := ctx.Middleware(func(ctx context.Context, _ interface{}) (interface{}, error) {
			return srv.Sync(ctx)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func syncUsageHandler(srv *SyncService) http.HandlerFunc {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, OperationSyncUsage)
		h := ctx.Middleware(func(ctx context.Context, _ interface{}) (interface{}, error) {
			return srv.SyncUsage(ctx)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}
