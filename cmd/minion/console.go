package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"minion-go/toolbox"
)

const consoleHelp = `commands:
  ring on|off               light ring (subject to safety limits)
  ring flash <n> <on> <off> flash n pulses, durations in ms
  led green|red|blue on|off status LEDs
  hat burn|strobe|gps|modem on|off
  rtc                       print RTC time
  help
  quit`

func consoleCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Interactive hardware console",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := openUnit(*opts)
			if err != nil {
				return err
			}
			defer u.close()

			fmt.Println("minion console; 'help' for commands")
			sc := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !sc.Scan() {
					return sc.Err()
				}
				words, err := shlex.Split(sc.Text())
				if err != nil {
					fmt.Println("parse error:", err)
					continue
				}
				if len(words) == 0 {
					continue
				}
				if words[0] == "quit" || words[0] == "exit" {
					return nil
				}
				if err := u.dispatch(words); err != nil {
					fmt.Println("error:", err)
				}
			}
		},
	}
}

func (u *unit) dispatch(words []string) error {
	switch words[0] {
	case "help":
		fmt.Println(consoleHelp)
		return nil
	case "ring":
		return u.ringCmd(words[1:])
	case "led":
		return u.ledCmd(words[1:])
	case "hat":
		return u.hatCmd(words[1:])
	case "rtc":
		now, err := u.rtc.ReadTime()
		if err != nil {
			return err
		}
		fmt.Println(now.Format(toolbox.TimestampLayout))
		return nil
	default:
		return fmt.Errorf("unknown command %q", words[0])
	}
}

func (u *unit) ringCmd(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: ring on|off|flash")
	}
	switch args[0] {
	case "on":
		return u.ring.SetState(true)
	case "off":
		return u.ring.SetState(false)
	case "flash":
		if len(args) != 4 {
			return fmt.Errorf("usage: ring flash <count> <onMs> <offMs>")
		}
		n, err1 := strconv.Atoi(args[1])
		onMs, err2 := strconv.Atoi(args[2])
		offMs, err3 := strconv.Atoi(args[3])
		if err1 != nil || err2 != nil || err3 != nil {
			return fmt.Errorf("flash arguments must be integers")
		}
		return u.ring.Flash(n,
			time.Duration(onMs)*time.Millisecond,
			time.Duration(offMs)*time.Millisecond)
	default:
		return fmt.Errorf("unknown ring action %q", args[0])
	}
}

func (u *unit) ledCmd(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: led green|red|blue on|off")
	}
	on, err := onOff(args[1])
	if err != nil {
		return err
	}
	panel := ledPanel{hw: u.hw, hat: u.hat}
	switch args[0] {
	case "green":
		return panel.Green(on)
	case "red":
		return panel.Red(on)
	case "blue":
		return panel.Blue(on)
	default:
		return fmt.Errorf("unknown led %q", args[0])
	}
}

func (u *unit) hatCmd(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: hat burn|strobe|gps|modem on|off")
	}
	on, err := onOff(args[1])
	if err != nil {
		return err
	}
	switch args[0] {
	case "burn":
		return u.hat.BurnWire(on)
	case "strobe":
		return u.hat.Strobe(on)
	case "gps":
		return u.hat.GPSPower(on)
	case "modem":
		return u.hat.ModemPower(on)
	default:
		return fmt.Errorf("unknown hat load %q", args[0])
	}
}

func onOff(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("want on or off, got %q", s)
	}
}
