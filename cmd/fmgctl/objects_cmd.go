package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/fmg/client"
	"pkt.systems/fmg/objects"
)

func newAddressCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Manage firewall address objects in the configured ADOM",
	}

	var comment, iface string
	add := &cobra.Command{
		Use:   "add NAME SUBNET",
		Short: "Create an ipmask address (SUBNET as a.b.c.d/len or a.b.c.d/mask)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := objects.NewAddress(args[0], args[1])
			if err != nil {
				return err
			}
			addr.Comment = comment
			addr.AssociatedInterface = objects.OneOf(iface)
			return a.withSession(cmd, func(ctx context.Context, s *client.Session) error {
				addr.Bind(s)
				resp, err := addr.Add(ctx)
				if err != nil {
					return err
				}
				return a.render(cmd, viewOf(resp))
			})
		},
	}
	add.Flags().StringVar(&comment, "comment", "", "address comment")
	add.Flags().StringVar(&iface, "interface", "", "associated interface")

	show := &cobra.Command{
		Use:   "show NAME",
		Short: "Show an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := &objects.Address{Name: args[0]}
			return a.withSession(cmd, func(ctx context.Context, s *client.Session) error {
				addr.Bind(s)
				if err := addr.Refresh(ctx); err != nil {
					return err
				}
				return a.render(cmd, addr)
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := &objects.Address{Name: args[0]}
			return a.withSession(cmd, func(ctx context.Context, s *client.Session) error {
				addr.Bind(s)
				resp, err := addr.Delete(ctx)
				if err != nil {
					return err
				}
				return a.render(cmd, viewOf(resp))
			})
		},
	}

	cmd.AddCommand(add, show, del)
	return cmd
}

func newDeviceCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Add devices to or remove them from an ADOM",
	}
	var (
		ip, user, pass, desc, serial string
		groups                       []string
		wait                         bool
	)
	run := func(action string) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *client.Session) error {
				job := &objects.DeviceJob{
					Action: action,
					ADOM:   s.ADOM(),
					Device: objects.Device{
						Name:         args[0],
						IP:           ip,
						AdminUser:    user,
						AdminPass:    client.NewSecret(pass),
						Description:  desc,
						SerialNumber: serial,
					},
				}
				for _, g := range groups {
					job.Groups = append(job.Groups, objects.GroupRef{Name: g})
				}
				job.Bind(s)
				resp, err := job.Exec(ctx)
				if err != nil {
					return err
				}
				if wait {
					if _, ok := resp.TaskID(); !ok {
						return fmt.Errorf("device %s: server returned no task id", action)
					}
				}
				return a.finishWithTask(ctx, cmd, s, resp, wait)
			})
		}
	}

	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Add a device",
		Args:  cobra.ExactArgs(1),
		RunE:  run(objects.DeviceAdd),
	}
	add.Flags().StringVar(&ip, "ip", "", "device management IP")
	add.Flags().StringVar(&user, "device-user", "", "device admin user")
	add.Flags().StringVar(&pass, "device-password", "", "device admin password")
	add.Flags().StringVar(&desc, "description", "", "device description")
	add.Flags().StringVar(&serial, "serial", "", "serial number (model devices)")
	add.Flags().StringSliceVar(&groups, "group", nil, "device group to join")
	add.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the task")

	del := &cobra.Command{
		Use:   "delete NAME",
		Short: "Remove a device",
		Args:  cobra.ExactArgs(1),
		RunE:  run(objects.DeviceDelete),
	}
	del.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the task")

	cmd.AddCommand(add, del)
	return cmd
}
