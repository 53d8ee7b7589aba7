package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bigkaa/imagehost/internal/domain/model"
	"github.com/bigkaa/imagehost/internal/service"
)

// commands — подкоманды CLI поверх сервисного слоя.
type commands struct {
	plans *service.PlanService
	out   io.Writer
	// newSweeper создаёт сервис очистки лениво: хранилище нужно только sweep
	newSweeper func() (*service.SweepService, error)
}

func (c *commands) dispatch(ctx context.Context, args []string) error {
	name, rest := args[0], args[1:]
	switch name {
	case "plans":
		return c.listPlans(ctx, rest)
	case "plan-create":
		return c.createPlan(ctx, rest)
	case "assign":
		return c.assign(ctx, rest)
	case "unassign":
		return c.unassign(ctx, rest)
	case "sweep":
		return c.sweep(ctx, rest)
	default:
		return fmt.Errorf("неизвестная команда %q", name)
	}
}

func newFlagSet(name string, out io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func (c *commands) listPlans(ctx context.Context, args []string) error {
	if err := newFlagSet("plans", c.out).Parse(args); err != nil {
		return err
	}

	plans, err := c.plans.List(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDIRECT LINK\tBINARY\tTHUMBNAILS")
	for _, p := range plans {
		fmt.Fprintf(tw, "%d\t%s\t%t\t%t\t%s\n",
			p.ID, p.Name, p.ExposeDirectLink, p.AllowBinaryDownload, joinSizes(p.ThumbnailSizes))
	}
	return tw.Flush()
}

func (c *commands) createPlan(ctx context.Context, args []string) error {
	p := &model.Plan{}
	fs := newFlagSet("plan-create", c.out)
	fs.StringVar(&p.Name, "name", "", "имя плана")
	fs.BoolVar(&p.ExposeDirectLink, "expose-direct-link", false, "выдавать прямую ссылку на оригинал")
	fs.BoolVar(&p.AllowBinaryDownload, "allow-binary-download", false, "разрешить binary images")
	fs.IntSliceVar(&p.ThumbnailSizes, "thumbnail-sizes", nil, "размеры миниатюр")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := c.plans.Create(ctx, p); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "План %q создан (id=%d)\n", p.Name, p.ID)
	return nil
}

func (c *commands) assign(ctx context.Context, args []string) error {
	var userID, planName string
	fs := newFlagSet("assign", c.out)
	fs.StringVar(&userID, "user", "", "идентификатор пользователя (sub из JWT)")
	fs.StringVar(&planName, "plan", "", "имя плана")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if planName == "" {
		return errors.New("не задан --plan")
	}

	p, err := c.plans.Assign(ctx, userID, planName)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Пользователю %s назначен план %s\n", userID, p.Name)
	return nil
}

func (c *commands) unassign(ctx context.Context, args []string) error {
	var userID string
	fs := newFlagSet("unassign", c.out)
	fs.StringVar(&userID, "user", "", "идентификатор пользователя (sub из JWT)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if userID == "" {
		return errors.New("не задан --user")
	}

	if err := c.plans.Unassign(ctx, userID); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "С пользователя %s снят план\n", userID)
	return nil
}

func (c *commands) sweep(ctx context.Context, args []string) error {
	if err := newFlagSet("sweep", c.out).Parse(args); err != nil {
		return err
	}

	sweeper, err := c.newSweeper()
	if err != nil {
		return err
	}
	res := sweeper.RunOnce(ctx)
	fmt.Fprintf(c.out, "Удалено: %d, ошибок: %d, за %s\n", res.DeletedCount, res.Errors, res.Duration)
	if res.Errors > 0 {
		return fmt.Errorf("очистка завершилась с ошибками: %d", res.Errors)
	}
	return nil
}

func joinSizes(sizes []int) string {
	if len(sizes) == 0 {
		return "-"
	}
	parts := make([]string, len(sizes))
	for i, s := range sizes {
		parts[i] = fmt.Sprint(s)
	}
	return strings.Join(parts, ",")
}
