package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go-social-chat/internal/client"
	"go-social-chat/internal/model"
	"go-social-chat/pkg/config"
	"go-social-chat/pkg/logger"
)

// 终端聊天客户端：登录后打开一个私聊或群聊会话，
// 回车发送，/命令做翻页、搜索、输入状态等操作
func main() {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	username := flag.String("user", "", "username")
	password := flag.String("pass", "", "password")
	peer := flag.Uint("peer", 0, "peer user ID for a direct conversation")
	group := flag.Uint("group", 0, "group ID for a group conversation")
	flag.Parse()

	if *username == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "usage: chatcli -user NAME -pass PASS (-peer ID | -group ID)")
		os.Exit(1)
	}
	if (*peer == 0) == (*group == 0) {
		fmt.Fprintln(os.Stderr, "specify exactly one of -peer or -group")
		os.Exit(1)
	}

	if err := config.Init(); err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	if err := logger.InitLogger(config.GlobalConfig.Log.Level, config.GlobalConfig.Log.ProductionMode); err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	ccfg := config.GlobalConfig.Client

	token, selfID, err := login(*server, *username, *password)
	if err != nil {
		fmt.Fprintln(os.Stderr, "login failed:", err)
		os.Exit(1)
	}

	rest := client.NewRestClient(*server, token)

	wsURL := strings.Replace(*server, "http", "ws", 1) + "/ws?token=" + token
	transport := client.NewTransport(wsURL, time.Duration(ccfg.ReconnectBaseWaitMs)*time.Millisecond)
	ctx := context.Background()
	if err := transport.Connect(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "websocket connect failed:", err)
		os.Exit(1)
	}
	defer transport.Close()

	var key client.ConversationKey
	if *group != 0 {
		key = client.GroupKey(*group)
	} else {
		key = client.DirectKey(*peer)
	}

	store := client.NewStore(time.Duration(ccfg.TypingSafetyMs) * time.Millisecond)
	conv := client.NewConversation(key, client.ConversationConfig{
		Store:        store,
		Fetcher:      rest,
		Sender:       rest,
		GroupFetcher: rest,
		Transport:    transport,
		SelfID:       selfID,
		PageSize:     ccfg.PageSize,
		HighlightFor: time.Duration(ccfg.SearchHighlightMs) * time.Millisecond,
	})
	conv.OnGroupUpdate = func(info *client.GroupInfo) {
		fmt.Printf("-- group %q now has %d members, %s until expiry --\n",
			info.Name, len(info.Members), time.Until(info.ExpiresAt).Round(time.Minute))
	}

	store.OnChange(func(changed client.ConversationKey) {
		if changed != key {
			return
		}
		render(store, key, selfID)
	})

	if err := conv.Open(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "failed to load conversation:", err)
		os.Exit(1)
	}
	defer conv.Close()

	typing := client.NewTypingNotifier(transport, key, selfID,
		time.Duration(ccfg.TypingDebounceMs)*time.Millisecond,
		time.Duration(ccfg.TypingIdleMs)*time.Millisecond)

	fmt.Println("connected. /more loads older messages, /find TEXT searches, /quit exits")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "/quit":
			typing.Stop()
			return
		case line == "/more":
			if err := conv.LoadMore(ctx); err != nil {
				fmt.Println("load more failed:", err)
			}
		case strings.HasPrefix(line, "/find "):
			n := conv.Search(strings.TrimPrefix(line, "/find "))
			fmt.Printf("%d matches\n", n)
			if id, ok := conv.NextMatch(); ok {
				fmt.Printf("match at message #%d\n", id)
			}
		case line == "/next":
			if id, ok := conv.NextMatch(); ok {
				fmt.Printf("match at message #%d\n", id)
			}
		case line == "/prev":
			if id, ok := conv.PrevMatch(); ok {
				fmt.Printf("match at message #%d\n", id)
			}
		case strings.HasPrefix(line, "/"):
			fmt.Println("unknown command:", line)
		case line != "":
			typing.Stop()
			if _, err := conv.Send(ctx, line, nil); err != nil {
				fmt.Println("send failed:", err)
			}
		default:
			typing.Keystroke()
		}
	}
}

func login(server, username, password string) (string, uint, error) {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := http.Post(server+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("login returned status %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
		User  struct {
			ID uint `json:"id"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, err
	}
	return out.Token, out.User.ID, nil
}

func render(store *client.Store, key client.ConversationKey, selfID uint) {
	for _, m := range store.Messages(key) {
		who := m.SenderUsername
		if who == "" {
			who = strconv.FormatUint(uint64(m.SenderID), 10)
		}
		if m.SenderID == selfID {
			who = "me"
		}
		mark := ""
		if m.Pending {
			mark = " (sending)"
		}
		if m.Failed {
			mark = " (failed)"
		}
		if m.Status == model.StatusRead {
			mark += " ✓✓"
		}
		fmt.Printf("[%s] %s: %s%s\n", m.CreatedAt.Format("15:04"), who, m.Content, mark)
	}
	if typing := store.TypingUsers(key); len(typing) > 0 {
		fmt.Printf("-- %d user(s) typing --\n", len(typing))
	}
	fmt.Println("----")
}
