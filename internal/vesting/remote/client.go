// Package remote drives a vesting service over gRPC.
package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	vestingv1 "gradify.org/api/vestingv1"
	"gradify.org/internal/auth"
	"gradify.org/internal/vesting"
)

// Client wraps the gRPC vesting service.
type Client struct {
	conn  *grpc.ClientConn
	svc   vestingv1.VestingServiceClient
	token string
}

// Dial creates a new client. Without options the transport is insecure.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, svc: vestingv1.NewVestingServiceClient(conn)}, nil
}

// WithToken returns a copy of the client that authenticates as token unless
// the call context carries its own.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = strings.TrimSpace(token)
	return &cp
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) CreateVestingAccount(ctx context.Context, companyName string) (vesting.Program, error) {
	var out vestingv1.Program
	err := c.call(ctx, c.svc.CreateVestingAccount, vestingv1.CreateVestingAccountRequest{CompanyName: companyName}, &out)
	if err != nil {
		return vesting.Program{}, err
	}
	return vesting.Program{
		Address:       out.Address,
		Owner:         out.Owner,
		CompanyName:   out.CompanyName,
		Treasury:      out.Treasury,
		Token:         out.Token,
		EmployeeCount: out.EmployeeCount,
	}, nil
}

func (c *Client) CreateEmployeeAccount(ctx context.Context, program, beneficiary string, sched vesting.Schedule) (vesting.EmployeeView, error) {
	var out vestingv1.Employee
	err := c.call(ctx, c.svc.CreateEmployeeAccount, vestingv1.CreateEmployeeAccountRequest{
		Program:     program,
		Beneficiary: beneficiary,
		StartTime:   sched.StartTime,
		EndTime:     sched.EndTime,
		CliffTime:   sched.CliffTime,
		TotalAmount: sched.TotalAmount,
	}, &out)
	if err != nil {
		return vesting.EmployeeView{}, err
	}
	return fromEmployee(out), nil
}

// ClaimToken claims for the authenticated beneficiary. owner may be empty.
func (c *Client) ClaimToken(ctx context.Context, companyName, owner string) (vesting.ClaimReceipt, error) {
	var out vestingv1.ClaimTokenResponse
	err := c.call(ctx, c.svc.ClaimToken, vestingv1.ClaimTokenRequest{CompanyName: companyName, Owner: owner}, &out)
	if err != nil {
		return vesting.ClaimReceipt{}, err
	}
	return vesting.ClaimReceipt{
		Program:        out.Program,
		CompanyName:    companyName,
		Employee:       out.Employee,
		Beneficiary:    out.Beneficiary,
		Amount:         out.Amount,
		Vested:         out.Vested,
		TotalWithdrawn: out.TotalWithdrawn,
		ClaimedAt:      out.ClaimedAt,
		TransactionID:  out.TransactionID,
	}, nil
}

func (c *Client) GetEmployee(ctx context.Context, address string) (vesting.EmployeeView, error) {
	var out vestingv1.Employee
	if err := c.call(ctx, c.svc.GetEmployee, vestingv1.GetEmployeeRequest{Address: address}, &out); err != nil {
		return vesting.EmployeeView{}, err
	}
	return fromEmployee(out), nil
}

// Helpers -----------------------------------------------------------------

type rpc func(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)

func (c *Client) call(ctx context.Context, method rpc, req, resp any) error {
	in, err := vestingv1.Encode(req)
	if err != nil {
		return err
	}
	var trailer metadata.MD
	out, err := method(c.outgoing(ctx), in, grpc.Trailer(&trailer))
	if err != nil {
		return mapVestingError(err, trailer)
	}
	return vestingv1.Decode(out, resp)
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	token, ok := auth.TokenFromContext(ctx)
	if !ok {
		token = c.token
	}
	if token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

// mapVestingError restores the sentinel named by the reason trailer so
// callers can branch with errors.Is as they would in-process.
func mapVestingError(err error, trailer metadata.MD) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	if vals := trailer.Get(vestingv1.ReasonTrailer); len(vals) > 0 {
		if sentinel := vesting.ErrorForReason(vals[0]); sentinel != nil {
			if st.Message() == sentinel.Error() {
				return sentinel
			}
			return &remoteError{msg: st.Message(), sentinel: sentinel}
		}
	}
	switch st.Code() {
	case codes.Unauthenticated:
		return fmt.Errorf("%w: %s", auth.ErrUnauthorized, st.Message())
	case codes.PermissionDenied:
		return fmt.Errorf("%w: %s", auth.ErrForbidden, st.Message())
	}
	return err
}

// remoteError keeps the server's message and unwraps to the sentinel.
type remoteError struct {
	msg      string
	sentinel error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.sentinel }

func fromEmployee(e vestingv1.Employee) vesting.EmployeeView {
	return vesting.EmployeeView{
		EmployeeRecord: vesting.EmployeeRecord{
			Address:     e.Address,
			Program:     e.Program,
			Beneficiary: e.Beneficiary,
			Schedule: vesting.Schedule{
				StartTime:   e.StartTime,
				EndTime:     e.EndTime,
				CliffTime:   e.CliffTime,
				TotalAmount: e.TotalAmount,
			},
			TotalWithdrawn: e.TotalWithdrawn,
		},
		Vested:    e.Vested,
		Claimable: e.Claimable,
		Remaining: e.TotalAmount - e.TotalWithdrawn,
		Status:    e.Status,
		Error:     e.Error,
	}
}

// WithTimeout returns a context with default timeout useful for CLI tools.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(parent, d)
}
