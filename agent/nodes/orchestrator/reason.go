package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
)

func Reason(
	ctx context.Context,
	in *GraphState,
	reasoner contractx.Reasoner,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	res, err := reasoner.Run(ctx, contractx.ReasonRequest{
		PatientID: in.PatientID,
		Message:   in.Message,
		History:   in.History,
		Now:       in.Now,
	})
	if err != nil {
		return nil, err
	}
	in.Result = res
	return in, nil
}
