package commands

import (
	"io"
	"os"
	"os/exec"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/mjl-/cablehs"
)

// runCommand starts argv with its stdin and stdout connected to conn. It
// returns when the command has finished and both directions are done.
func runCommand(conn *cablehs.Conn, argv []string, stderr io.Writer) error {
	cmd := exec.Command(argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return xerrors.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return xerrors.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return xerrors.Errorf("starting command: %w", err)
	}

	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(stdin, conn)
		stdin.Close()
		if err != nil {
			return xerrors.Errorf("copy from connection to command: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		_, err := io.Copy(conn, stdout)
		if err != nil {
			return xerrors.Errorf("copy from command to connection: %w", err)
		}
		return conn.CloseWrite()
	})
	err = g.Wait()
	werr := cmd.Wait()
	if err == nil && werr != nil {
		err = xerrors.Errorf("run: %w", werr)
	}
	return err
}

// relayStdio copies stdin to conn and conn to stdout. It returns when remote
// has sent end-of-stream. Input from stdin ends with end-of-stream to remote.
func relayStdio(conn *cablehs.Conn, stdin io.Reader, stdout io.Writer) error {
	go func() {
		_, err := io.Copy(conn, stdin)
		if err != nil {
			log.WithError(err).Error("copy to connection")
			return
		}
		if err := conn.CloseWrite(); err != nil {
			log.WithError(err).Debug("sending end-of-stream")
		}
	}()
	_, err := io.Copy(stdout, conn)
	if err != nil {
		return xerrors.Errorf("copy from connection: %w", err)
	}
	log.Debug("end-of-stream from remote")
	return nil
}

// inputFeed reads stdin in the background. Connections accepted one after
// another take turns consuming it.
func inputFeed(r io.Reader) <-chan []byte {
	input := make(chan []byte)
	go func() {
		defer close(input)
		for {
			buf := make([]byte, 4096)
			n, err := r.Read(buf)
			if n > 0 {
				input <- buf[:n]
			}
			if err != nil {
				if err != io.EOF {
					log.WithError(err).Error("read from stdin")
				}
				return
			}
		}
	}()
	return input
}

// serveStdio relays between conn and the shared input feed until remote sends
// end-of-stream.
func serveStdio(conn *cablehs.Conn, input <-chan []byte) {
	defer conn.Close()

	stop := make(chan struct{})
	go func() {
		defer close(stop)
		_, err := io.Copy(os.Stdout, conn)
		if err != nil {
			log.WithError(err).Info("copy from connection")
		} else {
			log.Info("eof from remote")
		}
	}()
	for {
		select {
		case buf, ok := <-input:
			if !ok {
				conn.CloseWrite()
				<-stop
				return
			}
			if _, err := conn.Write(buf); err != nil {
				log.WithError(err).Info("write to connection")
				return
			}
		case <-stop:
			return
		}
	}
}
